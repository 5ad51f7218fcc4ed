package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

// Checker periodically probes every active connection's credentials and flips
// its status when the platform rejects them.
type Checker struct {
	service  *Service
	registry *channel.Registry
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewChecker creates a Checker running on the given cron schedule.
func NewChecker(service *Service, registry *channel.Registry, log *slog.Logger, schedule string, timeout time.Duration) *Checker {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Checker{
		service:  service,
		registry: registry,
		logger:   log.With(slog.String("service", "connection-checker")),
		schedule: schedule,
		timeout:  timeout,
	}
}

// Start schedules the probe loop.
func (c *Checker) Start() error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, c.runOnce); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info("connection checker started", slog.String("schedule", c.schedule))
	return nil
}

// Stop halts the schedule and waits for a running probe to finish.
func (c *Checker) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
}

func (c *Checker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	active, err := c.service.ListActive(ctx)
	if err != nil {
		c.logger.Error("list active connections", slog.String("error", err.Error()))
		return
	}

	for _, resolved := range active {
		c.probe(ctx, resolved)
	}
}

func (c *Checker) probe(ctx context.Context, resolved Resolved) {
	prober, ok := c.registry.GetCredentialProber(resolved.Connection.Platform)
	if !ok {
		return
	}

	err := prober.ProbeCredentials(ctx, resolved.Credentials)
	if err == nil {
		return
	}

	c.logger.Warn("connection credentials failed probe",
		slog.String("connection_id", resolved.Connection.ID),
		slog.String("platform", resolved.Connection.Platform.String()),
		slog.String("error", err.Error()),
	)
	if updErr := c.service.UpdateStatus(ctx, resolved.Connection.ID, StatusError, err.Error()); updErr != nil {
		c.logger.Error("mark connection errored", slog.String("error", updErr.Error()))
	}
}
