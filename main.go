package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/inkwell-app/inkwell/api"
	"github.com/inkwell-app/inkwell/config"
	"github.com/inkwell-app/inkwell/db"
	"github.com/inkwell-app/inkwell/ingest"
	"github.com/inkwell-app/inkwell/log"
	"github.com/inkwell-app/inkwell/vendors"
	"github.com/inkwell-app/inkwell/workers/importwatch"
)

func main() {
	cfg := config.Get()

	store, err := db.Open(db.Config{Path: cfg.DatabasePath, LogQueries: cfg.DBLogQueries})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	// Vendor collaborators; nil values degrade gracefully (entries fail with
	// a recorded reason instead of the server refusing to start)
	openaiClient := vendors.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	meiliClient := vendors.NewMeiliClient(cfg.MeiliHost, cfg.MeiliAPIKey, cfg.MeiliIndex)

	service := ingest.NewService(ingest.Config{
		HashThreshold:   cfg.HashThreshold,
		StaleProcessing: cfg.StaleProcessing,
		Workers:         cfg.IngestWorkers,
		QueueSize:       cfg.IngestQueueSize,
	}, store, openaiClient, openaiClient, meiliClient)

	service.Start()

	var watcher *importwatch.Watcher
	if cfg.ImportDir != "" {
		watcher = importwatch.New(cfg.ImportDir, service)
		if err := watcher.Start(); err != nil {
			log.Error().Err(err).Str("dir", cfg.ImportDir).Msg("import watcher failed to start")
			watcher = nil
		}
	}

	// Our zerolog request logger replaces Gin's default debug logging
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(log.GinLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	if cfg.IsDevelopment() {
		r.Use(corsMiddleware())
	}

	r.SetTrustedProxies(nil)

	handlers := api.NewHandlers(cfg, store, service)
	api.SetupRoutes(r, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:     addr,
		Handler:  r,
		ErrorLog: log.StdErrorLogger(),
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("env", cfg.Env).
			Msg("server starting")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop intake first so workers drain without new jobs arriving
	if watcher != nil {
		watcher.Stop()
	}
	service.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
	}

	log.Info().Msg("server stopped")
}

// corsMiddleware allows the local dev frontend and TUS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:12350": true,
			"http://localhost:12351": true,
		}

		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Owner-ID, Upload-Offset, Upload-Length, Upload-Metadata, Tus-Resumable, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upload-Offset, Upload-Length, Location, Tus-Resumable")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
