package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyerfyer/agni-rag/pkg/taskqueue"
	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued ingestion tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.Queue.Enable {
				return errors.New("queue is disabled, set queue.enable to run a worker")
			}

			queue, err := taskqueue.NewRedisQueue(a.queueConfig())
			if err != nil {
				return err
			}
			a.closers = append(a.closers, queue.Close)

			ingestion, err := a.ingestionService(cmd.Context(), queue)
			if err != nil {
				return err
			}

			worker := taskqueue.NewRedisWorker(queue, nil)
			worker.RegisterHandler(taskqueue.NewIngestHandler(ingestion.ProcessQueued, a.logger))
			if err := worker.Start(); err != nil {
				return err
			}
			a.logger.Info("Ingestion worker started")

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-sigCtx.Done()

			a.logger.Info("Shutting down worker...")
			worker.Stop()
			return nil
		},
	}
}
