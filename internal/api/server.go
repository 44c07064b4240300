// Package api is flashkitd's REST surface: start/status/log-stream/cancel
// for flashing jobs, plus device and bundle lookups, layered over
// internal/job, internal/probe, and internal/bundle.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flashkit/internal/job"
	"flashkit/internal/model"
)

// DeviceLister is the subset of internal/probe the API needs for GET
// /devices.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]model.Device, error)
}

// BundleIndex is the subset of internal/bundle the API needs for GET
// /bundles/for/{codename}.
type BundleIndex interface {
	Latest(ctx context.Context, codename string) (string, error)
}

// Server wires the Job Manager and device/bundle lookups into gin routes.
type Server struct {
	Jobs    *job.Manager
	Devices DeviceLister
	Bundles BundleIndex

	router *gin.Engine
}

// New builds a Server with gin in release mode and panic recovery.
func New(jobs *job.Manager, devices DeviceLister, bundles BundleIndex) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{Jobs: jobs, Devices: devices, Bundles: bundles, router: router}

	flash := router.Group("/flash")
	{
		flash.POST("/start", s.handleStart)
		flash.GET("/jobs/:job_id", s.handleStatus)
		flash.GET("/jobs/:job_id/stream", s.handleStream)
		flash.POST("/jobs/:job_id/cancel", s.handleCancel)
	}
	router.GET("/devices", s.handleDevices)
	router.GET("/bundles/for/:codename", s.handleBundlesFor)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleStart(c *gin.Context) {
	var req model.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Serial == "" && req.Codename == "" && req.BundlePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one of serial, codename, or bundle_path is required"})
		return
	}

	id, err := s.Jobs.Start(context.Background(), req)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id})
}

func (s *Server) handleStatus(c *gin.Context) {
	j, ok := s.Jobs.Get(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, j.Snapshot())
}

func (s *Server) handleStream(c *gin.Context) {
	j, ok := s.Jobs.Get(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	ch, unsubscribe := j.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Replay the log so far before switching to live events, so a client
	// that subscribes mid-run sees a consistent history.
	for _, ev := range j.Snapshot().Events {
		c.SSEvent("event", ev)
	}
	c.Writer.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("event", ev)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("ping", "")
			c.Writer.Flush()
		case <-clientGone:
			return
		}
	}
}

func (s *Server) handleCancel(c *gin.Context) {
	j, ok := s.Jobs.Get(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	j.Cancel()
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleDevices(c *gin.Context) {
	devices, err := s.Devices.ListDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) handleBundlesFor(c *gin.Context) {
	codename := c.Param("codename")
	version, err := s.Bundles.Latest(c.Request.Context(), codename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"codename": codename, "version": version})
}
