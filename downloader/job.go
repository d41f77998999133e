package downloader

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressFunc 进度回调, percent 为 0-100 且不减. 回调在计数锁内执行, 不要阻塞.
type ProgressFunc func(percent int)

// Result 任务结果. 正常结束时 Success + Failure == Total.
type Result struct {
	Success   int64
	Failure   int64
	Total     int64
	Bytes     int64
	Cancelled bool
}

// Percent 成功比例
func (r Result) Percent() int {
	if r.Total == 0 {
		return 100
	}
	return int(r.Success * 100 / r.Total)
}

// Job 下载任务
type Job struct {
	ID        string
	Selection string
	Started   time.Time

	mu       sync.Mutex
	result   Result
	finished bool
	progress ProgressFunc

	cancel atomic.Bool
	done   chan struct{}
}

func newJob(id, selection string, total int64, progress ProgressFunc) *Job {
	return &Job{
		ID:        id,
		Selection: selection,
		Started:   time.Now(),
		result:    Result{Total: total},
		progress:  progress,
		done:      make(chan struct{}),
	}
}

// Cancel 请求取消, 已发出的请求会继续完成. 可在进度回调中调用.
func (j *Job) Cancel() {
	j.cancel.Store(true)
}

func (j *Job) cancelled() bool {
	return j.cancel.Load()
}

// Done 任务结束时关闭
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait 等待任务结束
func (j *Job) Wait() Result {
	<-j.done
	return j.Snapshot()
}

// Snapshot 当前计数
func (j *Job) Snapshot() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Finished 任务是否已结束
func (j *Job) Finished() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

// account 记录一个瓦片的结果并回调进度
func (j *Job) account(ok bool, n int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ok {
		j.result.Success++
		j.result.Bytes += n
	} else {
		j.result.Failure++
	}
	if j.progress != nil {
		j.progress(j.result.Percent())
	}
}

func (j *Job) finish(cancelled bool) {
	j.mu.Lock()
	j.result.Cancelled = cancelled
	j.finished = true
	j.mu.Unlock()
	close(j.done)
}
