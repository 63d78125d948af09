package components

import (
	"context"
	"log/slog"
	"net/http"

	"dispatch/internal/server"
)

type ServerComponent struct {
	config    server.Config
	storage   *StorageComponent
	scheduler *SchedulerComponent
	metrics   http.Handler
	logger    *slog.Logger

	server *server.Server
	errs   <-chan error
}

func NewServerComponent(config server.Config, storage *StorageComponent, scheduler *SchedulerComponent, metrics http.Handler, logger *slog.Logger) *ServerComponent {
	return &ServerComponent{
		config:    config,
		storage:   storage,
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger,
	}
}

func (c *ServerComponent) Name() string {
	return ServerComponentName
}

func (c *ServerComponent) Dependencies() []string {
	return []string{StorageComponentName, SchedulerComponentName}
}

func (c *ServerComponent) Validate() error {
	return nil
}

func (c *ServerComponent) Initialize(ctx context.Context) error {
	c.server = server.New(c.config, c.scheduler.Bot(), c.storage.Backend().Journal(), c.metrics, c.logger)
	c.errs = c.server.Start()
	return nil
}

func (c *ServerComponent) Close(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Errors reports a listener failure. It is nil before Initialize.
func (c *ServerComponent) Errors() <-chan error {
	return c.errs
}
