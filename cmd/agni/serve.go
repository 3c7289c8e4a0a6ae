package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyerfyer/agni-rag/api"
	"github.com/fyerfyer/agni-rag/api/handler"
	"github.com/fyerfyer/agni-rag/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gin.SetMode(mode)
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&mode, "mode", gin.ReleaseMode, "gin mode (debug/release)")
	return cmd
}

func runServe(ctx context.Context) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	logger.Info("Starting Agni RAG server...")

	var queue taskqueue.Queue
	if a.cfg.Queue.Enable {
		q, err := taskqueue.NewRedisQueue(a.queueConfig())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, q.Close)
		queue = q
		logger.Info("Async ingestion enabled")
	}

	ingestion, err := a.ingestionService(ctx, queue)
	if err != nil {
		return err
	}
	query, err := a.queryService()
	if err != nil {
		return err
	}

	router := api.SetupRouter(
		api.RouterConfig{
			AllowedOrigins: a.cfg.CORS.AllowedOrigins,
			MaxUploadMB:    a.cfg.Server.MaxUploadMB,
			Gatherer:       a.registry,
		},
		handler.NewDocumentHandler(ingestion, a.cfg.Server.MaxUploadMB<<20),
		handler.NewQueryHandler(query),
	)

	srv := &http.Server{
		Addr:         a.cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 等待终止信号
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server exited")
	return nil
}
