// Package ops implements the operational HTTP API: health, metrics,
// job inspection, and roaster state.
package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/beancrawl/internal/domain"
	"github.com/jonesrussell/beancrawl/internal/logger"
	"github.com/jonesrussell/beancrawl/internal/metrics"
	"github.com/jonesrussell/beancrawl/internal/queue"
	"github.com/jonesrussell/beancrawl/internal/schedule"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	defaultJobsLimit  = 50
	maxJobsLimit      = 500
)

// Server serves the operational API.
type Server struct {
	store    queue.Store
	roasters schedule.RoasterLister
	metrics  *metrics.Metrics
	logger   logger.Interface
	addr     string
}

// NewServer creates an ops server.
func NewServer(
	store queue.Store,
	roasters schedule.RoasterLister,
	m *metrics.Metrics,
	addr string,
	log logger.Interface,
) *Server {
	return &Server{
		store:    store,
		roasters: roasters,
		metrics:  m,
		logger:   log.WithComponent("ops"),
		addr:     addr,
	}
}

// Router builds the Gin router with all routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.GET("/metrics", s.handleMetrics)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.GET("/roasters", s.handleListRoasters)

	return router
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) handleMetrics(c *gin.Context) {
	counts, err := s.store.CountByStatus(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to count jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pipeline": s.metrics.GetSnapshot(),
		"queue":    counts,
	})
}

func (s *Server) handleListJobs(c *gin.Context) {
	status := domain.JobStatus(c.Query("status"))

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultJobsLimit)))
	if err != nil || limit <= 0 || limit > maxJobsLimit {
		limit = defaultJobsLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	jobs, err := s.store.ListJobs(c.Request.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		s.logger.Error("failed to get job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListRoasters(c *gin.Context) {
	roasters, err := s.roasters.ListRoasters(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list roasters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list roasters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"roasters": roasters})
}
