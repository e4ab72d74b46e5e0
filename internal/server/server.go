// Package server exposes the recording core over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/cohost/internal/audio"
	"github.com/zulandar/cohost/internal/notify"
	"github.com/zulandar/cohost/internal/resume"
	"github.com/zulandar/cohost/internal/session"
	"github.com/zulandar/cohost/internal/transcript"
)

// Deps are the core services the handlers call into.
type Deps struct {
	Ledger     *session.Ledger
	Monitor    *session.Monitor
	Audio      *audio.Store
	Transcript *transcript.Store
	Planner    *resume.Planner
	Hub        *notify.Hub
	// UpstreamAPIKey is the realtime provider credential. Empty means the
	// realtime endpoint answers 503.
	UpstreamAPIKey string
}

func (d Deps) validate() error {
	if d.Ledger == nil || d.Monitor == nil || d.Audio == nil || d.Transcript == nil || d.Planner == nil {
		return fmt.Errorf("server: ledger, monitor, audio, transcript and planner are required")
	}
	return nil
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Deps      Deps
	Port      int
	Out       io.Writer
	AccessLog bool
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(d Deps, accessLog bool) (*gin.Engine, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if accessLog {
		router.Use(gin.Logger())
	}
	registerRoutes(router, &handlers{deps: d})
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Deps, opts.AccessLog)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "cohost API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
