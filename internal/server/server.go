// Package server exposes the dispatch engine over HTTP: a JSON API for the
// consumed actions and an SSE stream carrying the event bus to connected
// clients.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/porterline/internal/alerts"
	"github.com/zulandar/porterline/internal/cycletime"
	"github.com/zulandar/porterline/internal/eventbus"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB         *gorm.DB
	Bus        *eventbus.Fanout
	Acks       cycletime.AckStore
	Dismissals *alerts.Dismissals
	Port       int
	Out        io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dispatch API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter builds the gin router with all routes registered. Split from
// Start so tests can drive handlers through httptest.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("server: bus is required")
	}
	if opts.Acks == nil {
		opts.Acks = cycletime.NewMemoryAcks()
	}
	if opts.Dismissals == nil {
		opts.Dismissals = alerts.NewDismissals()
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &server{db: opts.DB, bus: opts.Bus, acks: opts.Acks, dismissals: opts.Dismissals}
	s.registerRoutes(router)
	return router, nil
}

type server struct {
	db         *gorm.DB
	bus        *eventbus.Fanout
	acks       cycletime.AckStore
	dismissals *alerts.Dismissals
}
