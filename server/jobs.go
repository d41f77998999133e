package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"offlinetiler/downloader"
	"offlinetiler/selection"
)

type jobView struct {
	ID        string    `json:"id"`
	Selection string    `json:"selection"`
	Started   time.Time `json:"started"`
	Finished  bool      `json:"finished"`
	Percent   int       `json:"percent"`
	Success   int64     `json:"success"`
	Failure   int64     `json:"failure"`
	Total     int64     `json:"total"`
	Bytes     int64     `json:"bytes"`
	Cancelled bool      `json:"cancelled"`
}

func newJobView(job *downloader.Job) jobView {
	r := job.Snapshot()
	return jobView{
		ID:        job.ID,
		Selection: job.Selection,
		Started:   job.Started,
		Finished:  job.Finished(),
		Percent:   r.Percent(),
		Success:   r.Success,
		Failure:   r.Failure,
		Total:     r.Total,
		Bytes:     r.Bytes,
		Cancelled: r.Cancelled,
	}
}

func (s *Server) job(id string) *downloader.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// runningJob 选区正在运行的任务, 调用方持有 s.mu
func (s *Server) runningJob(name string) *downloader.Job {
	for _, job := range s.jobs {
		if job.Selection == name && !job.Finished() {
			return job
		}
	}
	return nil
}

func (s *Server) startJob(c *gin.Context) {
	name := c.Param("name")
	list, err := s.readSelections()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sel := list.Find(name)
	if sel == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "selection not found"})
		return
	}
	s.mu.Lock()
	if running := s.runningJob(name); running != nil {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, newJobView(running))
		return
	}
	job, err := s.dl.Start(s.ctx, sel, nil)
	if err == nil {
		s.jobs[job.ID] = job
	}
	s.mu.Unlock()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, selection.ErrInvalid) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	go s.watch(job)

	c.JSON(http.StatusAccepted, newJobView(job))
}

// watch 任务全部成功后标记选区完成
func (s *Server) watch(job *downloader.Job) {
	r := job.Wait()
	if r.Cancelled || r.Failure > 0 {
		return
	}
	s.selMu.Lock()
	defer s.selMu.Unlock()
	if err := selection.MarkComplete(s.repo.SelectionFile(), s.sys, job.Selection); err != nil {
		s.log.Warnf("mark selection %s complete error ~ %s", job.Selection, err)
	}
}

func (s *Server) listJobs(c *gin.Context) {
	s.mu.Lock()
	views := make([]jobView, 0, len(s.jobs))
	for _, job := range s.jobs {
		views = append(views, newJobView(job))
	}
	s.mu.Unlock()
	sort.Slice(views, func(i, j int) bool {
		return views[i].Started.Before(views[j].Started)
	})
	c.JSON(http.StatusOK, views)
}

func (s *Server) getJob(c *gin.Context) {
	job := s.job(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, newJobView(job))
}

func (s *Server) cancelJob(c *gin.Context) {
	job := s.job(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	job.Cancel()
	c.JSON(http.StatusAccepted, newJobView(job))
}
