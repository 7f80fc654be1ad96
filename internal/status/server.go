// Package status serves the worker's health, progress and metrics over HTTP.
package status

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/zulandar/reelyard/internal/resilience"
)

// Worker reports the scheduler loop's identity and liveness.
type Worker interface {
	WorkerID() string
	LastTick() time.Time
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	DB       *gorm.DB
	Port     int
	Registry *resilience.Registry
	Worker   Worker
	Gatherer prometheus.Gatherer
	Out      io.Writer
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("status: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status server running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine with every status route registered.
func NewRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handleHealth())
	router.GET("/readyz", handleReady(opts.DB))
	router.GET("/api/status", handleStatus(opts.DB, opts.Worker))
	router.GET("/api/failures", handleFailures(opts.DB))
	router.GET("/api/breakers", handleBreakers(opts.Registry))

	metricsHandler := promhttp.Handler()
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))
	return router
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleReady(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func handleStatus(db *gorm.DB, w Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := Summarize(db.WithContext(c.Request.Context()))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		body := gin.H{"summary": summary}
		if w != nil {
			worker := gin.H{"id": w.WorkerID()}
			if last := w.LastTick(); !last.IsZero() {
				worker["last_tick"] = last.UTC()
				worker["since_last_tick"] = time.Since(last).Round(time.Millisecond).String()
			}
			body["worker"] = worker
		}
		c.JSON(http.StatusOK, body)
	}
}

func handleFailures(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		rows, err := RecentFailures(db.WithContext(c.Request.Context()), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"failures": rows})
	}
}

func handleBreakers(reg *resilience.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		snaps := []resilience.BreakerSnapshot{}
		if reg != nil {
			snaps = append(snaps, reg.Snapshots()...)
		}
		c.JSON(http.StatusOK, gin.H{"breakers": snaps})
	}
}
