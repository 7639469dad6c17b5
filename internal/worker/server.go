// Package worker runs the relay's background jobs on asynq. The only job is
// the periodic room audit: an occupancy report over the in-memory registry,
// useful when the relay runs headless and nobody is watching /health.
package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-diagram/internal/registry"
	"collaborative-diagram/internal/tasks"
)

// WorkerServer wraps the asynq server lifecycle.
type WorkerServer struct {
	server   *asynq.Server
	registry *registry.RoomRegistry
	log      *logrus.Entry
}

// NewWorkerServer creates a worker bound to the given registry.
func NewWorkerServer(redisOpt asynq.RedisClientOpt, reg *registry.RoomRegistry, logger *logrus.Logger) *WorkerServer {
	logEntry := logger.WithField("component", "worker_server")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retryCount, _ := asynq.GetRetryCount(ctx)
				logEntry.WithFields(logrus.Fields{
					"task_type": task.Type(),
					"retries":   retryCount,
				}).Errorf("Task failed: %v", err)
			}),
		},
	)

	return &WorkerServer{
		server:   server,
		registry: reg,
		log:      logEntry,
	}
}

// Start runs the worker. It should be called in its own goroutine.
func (ws *WorkerServer) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeRoomAudit, ws.handleRoomAudit)

	ws.log.Info("Worker server starting")
	if err := ws.server.Run(mux); err != nil {
		if !errors.Is(err, asynq.ErrServerClosed) {
			ws.log.Fatalf("Could not run worker server: %v", err)
		}
		ws.log.Info("Worker server stopped")
	}
}

// Shutdown stops the worker gracefully.
func (ws *WorkerServer) Shutdown() {
	ws.log.Info("Shutting down worker server")
	ws.server.Shutdown()
}

func (ws *WorkerServer) handleRoomAudit(ctx context.Context, t *asynq.Task) error {
	rooms, users := ws.registry.Stats()
	ws.log.WithFields(logrus.Fields{
		"active_rooms": rooms,
		"total_users":  users,
	}).Info("Room audit")
	return nil
}
