// Package downloader 后台下载任务: 遍历选区的全部编码, 跳过已缓存的瓦片, 下载其余瓦片写入缓存.
package downloader

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/semaphore"

	"offlinetiler/repository"
	"offlinetiler/selection"
	"offlinetiler/tilesystem"
)

// DefaultWorkers 默认并发请求数
const DefaultWorkers = 4

// Store 瓦片缓存
type Store interface {
	Exists(key tilesystem.QuadKey, style repository.Style) bool
	Put(key tilesystem.QuadKey, style repository.Style, r io.Reader, size int64) (int64, error)
}

// Option 下载器选项
type Option func(*Downloader)

// WithLogger 设置日志
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Downloader) {
		d.log = log
	}
}

// WithWorkers 设置最大并发请求数, 1 表示同一时刻只有一个请求
func WithWorkers(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDelay 设置相邻请求的发送间隔
func WithDelay(delay time.Duration) Option {
	return func(d *Downloader) {
		d.delay = delay
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) Option {
	return func(d *Downloader) {
		d.metrics = m
	}
}

// Downloader 瓦片下载器
type Downloader struct {
	store   Store
	fetcher Fetcher
	workers int
	delay   time.Duration
	log     logrus.FieldLogger
	metrics *Metrics
}

// New 创建下载器
func New(store Store, fetcher Fetcher, opts ...Option) *Downloader {
	d := &Downloader{
		store:   store,
		fetcher: fetcher,
		workers: DefaultWorkers,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start 校验选区并在后台开始下载. 选区非法时直接返回错误, 不做任何下载.
func (d *Downloader) Start(ctx context.Context, sel *selection.Selection, progress ProgressFunc) (*Job, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, err
	}
	job := newJob(id, sel.Name, sel.NumTotalTiles(), progress)
	d.log.Infof("Task %s: selection %s starting, %d tiles", job.ID, sel.Name, job.result.Total)
	go d.run(ctx, job, sel)
	return job, nil
}

// Run 同步下载
func (d *Downloader) Run(ctx context.Context, sel *selection.Selection, progress ProgressFunc) (Result, error) {
	job, err := d.Start(ctx, sel, progress)
	if err != nil {
		return Result{}, err
	}
	return job.Wait(), nil
}

func (d *Downloader) run(ctx context.Context, job *Job, sel *selection.Selection) {
	start := time.Now()
	sem := semaphore.NewWeighted(int64(d.workers))
	var wg sync.WaitGroup
	cancelled := false
	styles := sel.Styles()

loop:
	for key := range sel.Addresses() {
		for _, style := range styles {
			if job.cancelled() || ctx.Err() != nil {
				cancelled = true
				break loop
			}
			if d.store.Exists(key, style) {
				d.metrics.observe(resultCached, 0, 0)
				job.account(true, 0)
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				cancelled = true
				break loop
			}
			// 等待空闲期间可能已被取消
			if job.cancelled() {
				sem.Release(1)
				cancelled = true
				break loop
			}
			if d.delay > 0 {
				time.Sleep(d.delay)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				// 计数完成后再释放, 保证取消后不会多发请求
				defer sem.Release(1)
				d.fetch(ctx, job, key, style)
			}()
		}
	}
	wg.Wait()
	job.finish(cancelled)

	r := job.Snapshot()
	if cancelled {
		d.log.Infof("Task %s got canceled, %d/%d tiles, %d failed", job.ID, r.Success, r.Total, r.Failure)
		return
	}
	d.log.Infof("Task %s finished in %.3fs, %d/%d tiles, %d failed, %.2f kb",
		job.ID, time.Since(start).Seconds(), r.Success, r.Total, r.Failure, float64(r.Bytes)/1024.0)
}

// fetch 下载一个瓦片并写入缓存
func (d *Downloader) fetch(ctx context.Context, job *Job, key tilesystem.QuadKey, style repository.Style) {
	start := time.Now()
	n, err := d.fetchAndStore(ctx, key, style)
	secs := time.Since(start).Seconds()
	if err != nil {
		d.log.Debugf("fetch tile %s %s error ~ %s", key, style, err)
		d.metrics.observe(resultFailed, 0, secs)
		job.account(false, 0)
		return
	}
	d.log.Debugf("tile %s %s, %dms, %.2f kb", key, style, time.Since(start).Milliseconds(), float32(n)/1024.0)
	d.metrics.observe(resultFetched, n, secs)
	job.account(true, n)
}

func (d *Downloader) fetchAndStore(ctx context.Context, key tilesystem.QuadKey, style repository.Style) (int64, error) {
	body, size, err := d.fetcher.Fetch(ctx, key, style)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return d.store.Put(key, style, body, size)
}
