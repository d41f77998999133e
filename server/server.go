// Package server 本地 HTTP 服务: 从缓存读取瓦片给地图显示, 查看选区, 启动和取消下载任务.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/karlseguin/ccache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"offlinetiler/downloader"
	"offlinetiler/repository"
	"offlinetiler/selection"
	"offlinetiler/tilesystem"
)

const (
	defaultCacheSize = 4096
	cacheTTL         = 10 * time.Minute
)

// Option 服务选项
type Option func(*Server)

// WithLogger 设置日志
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithCacheSize 内存中缓存的瓦片数
func WithCacheSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// WithGatherer /metrics 使用的指标源
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithSystem 设置坐标系
func WithSystem(sys tilesystem.System) Option {
	return func(s *Server) {
		s.sys = sys
	}
}

// Server HTTP 服务
type Server struct {
	repo      *repository.Repository
	dl        *downloader.Downloader
	sys       tilesystem.System
	log       logrus.FieldLogger
	gatherer  prometheus.Gatherer
	cacheSize int64

	cache    *ccache.Cache[[]byte]
	inflight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	// selMu 串行化选区文件的读写
	selMu sync.Mutex
	mu    sync.Mutex
	jobs  map[string]*downloader.Job
}

// New 创建服务
func New(repo *repository.Repository, dl *downloader.Downloader, opts ...Option) *Server {
	s := &Server{
		repo:      repo,
		dl:        dl,
		sys:       tilesystem.Default,
		log:       logrus.StandardLogger(),
		gatherer:  prometheus.DefaultGatherer,
		cacheSize: defaultCacheSize,
		jobs:      make(map[string]*downloader.Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = ccache.New(ccache.Configure[[]byte]().MaxSize(s.cacheSize).ItemsToPrune(uint32(s.cacheSize/10 + 1)))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Handler 路由
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequest)
	r.GET("/tiles/:quadkey/:style", s.getTile)
	r.GET("/selections", s.listSelections)
	r.POST("/selections/:name/jobs", s.startJob)
	r.GET("/jobs", s.listJobs)
	r.GET("/jobs/:id", s.getJob)
	r.DELETE("/jobs/:id", s.cancelJob)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	return r
}

// Close 取消全部任务并等待结束, 同时停止内存缓存
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	jobs := make([]*downloader.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		job.Cancel()
		jobs = append(jobs, job)
	}
	s.mu.Unlock()
	for _, job := range jobs {
		job.Wait()
	}
	s.cache.Stop()
}

func (s *Server) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debugf("%s %s %d %dms", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
}

func cacheKey(key tilesystem.QuadKey, style repository.Style) string {
	return style.Code() + key.String()
}

// readTile 先查内存缓存, 未命中时同一个瓦片只读一次磁盘
func (s *Server) readTile(key tilesystem.QuadKey, style repository.Style) ([]byte, error) {
	ck := cacheKey(key, style)
	if item := s.cache.Get(ck); item != nil && !item.Expired() {
		return item.Value(), nil
	}
	v, err, _ := s.inflight.Do(ck, func() (interface{}, error) {
		data, err := s.repo.Read(key, style)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ck, data, cacheTTL)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Server) getTile(c *gin.Context) {
	key := tilesystem.QuadKey(c.Param("quadkey"))
	if err := key.Valid(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sys.CheckZoom(key.Zoom()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	style, err := repository.ParseStyle(c.Param("style"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := s.readTile(key, style)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tile not cached"})
			return
		}
		s.log.Errorf("read tile %s %s error ~ %s", key, style, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, style.ContentType(), data)
}

type selectionView struct {
	Name       string  `json:"name"`
	Level      int     `json:"level"`
	MaxLevel   int     `json:"max_level"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Aerial     bool    `json:"aerial"`
	Road       bool    `json:"road"`
	Complete   bool    `json:"complete"`
	TotalTiles int64   `json:"total_tiles"`
}

func (s *Server) readSelections() (selection.List, error) {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	return selection.ReadFile(s.repo.SelectionFile(), s.sys)
}

func (s *Server) listSelections(c *gin.Context) {
	list, err := s.readSelections()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]selectionView, 0, len(list))
	for _, sel := range list {
		ll := sel.LatLon()
		views = append(views, selectionView{
			Name:       sel.Name,
			Level:      sel.Level,
			MaxLevel:   sel.MaxLevel,
			Lat:        ll.Lat,
			Lon:        ll.Lon,
			Aerial:     sel.Aerial,
			Road:       sel.Road,
			Complete:   sel.Complete,
			TotalTiles: sel.NumTotalTiles(),
		})
	}
	c.JSON(http.StatusOK, views)
}
