package taskqueue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Worker runs the asynq server for dispatch and push tasks
type Worker struct {
	srv      *asynq.Server
	handlers *Handlers
}

func NewWorker(opt asynq.RedisConnOpt, concurrency int, handlers *Handlers) *Worker {
	logger := log.With().Str("component", "taskqueue").Logger()
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      asynqLogger{logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task_type", task.Type()).Msg("task failed")
		}),
	})
	return &Worker{srv: srv, handlers: handlers}
}

// Start begins processing in the background
func (w *Worker) Start() error {
	log.Info().Str("component", "taskqueue").Msg("starting workers")
	return w.srv.Start(w.handlers.Mux())
}

// Shutdown waits for active tasks and stops the server
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
	log.Info().Str("component", "taskqueue").Msg("workers stopped")
}

type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
