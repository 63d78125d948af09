package core

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffUnit = time.Second
)

type DeliveryConfig struct {
	MaxAttempts int
	// BackoffUnit is multiplied by the attempt number when the sink gives
	// no wait hint.
	BackoffUnit time.Duration
}

// DeliveryEngine posts one item to the sink and classifies the outcome.
type DeliveryEngine struct {
	sink      Sink
	formatter Formatter
	clock     Clock
	config    DeliveryConfig
	logger    *slog.Logger
}

func NewDeliveryEngine(sink Sink, formatter Formatter, clock Clock, config DeliveryConfig, logger *slog.Logger) *DeliveryEngine {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BackoffUnit <= 0 {
		config.BackoffUnit = DefaultBackoffUnit
	}

	return &DeliveryEngine{
		sink:      sink,
		formatter: formatter,
		clock:     clock,
		config:    config,
		logger:    logger,
	}
}

func (e *DeliveryEngine) Deliver(ctx context.Context, c Candidate) Outcome {
	logger := e.logger.With("item_id", c.Item.ID, "source", c.Source.Name)

	embed, err := e.formatter.Format(c.Item, c.Source)
	if err != nil {
		// A payload that cannot be built will never be accepted.
		logger.Error("Failed to format item", "error", err)
		return OutcomeFatal
	}

	payload := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}

	maxAttempts := e.config.MaxAttempts
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := e.sink.Post(ctx, payload)

		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				logger.Warn("Delivery interrupted", "error", ctx.Err())
				return OutcomeTransient
			}
			wait = e.backoff(attempt)
			logger.Warn("Network error posting to sink",
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"error", err)

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if attempt > 0 {
				logger.Info("Item delivered on retry", "attempt", attempt+1)
			}
			return OutcomeSuccess

		case resp.StatusCode == http.StatusTooManyRequests:
			wait = e.backoff(attempt)
			if resp.HasRetryAfter {
				wait = resp.RetryAfter
			}
			logger.Info("Rate limited by sink", "attempt", attempt+1, "wait", wait)

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			logger.Error("Sink rejected item",
				"status", resp.StatusCode,
				"title", truncateForLog(c.Item.Title))
			return OutcomeFatal

		case resp.StatusCode >= 500:
			wait = e.backoff(attempt)
			logger.Warn("Sink server error",
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"max_attempts", maxAttempts)

		default:
			logger.Error("Unexpected sink status", "status", resp.StatusCode)
			return OutcomeTransient
		}

		if attempt == maxAttempts-1 {
			break
		}

		if err := e.clock.Sleep(ctx, wait); err != nil {
			logger.Warn("Retry wait interrupted", "error", err)
			return OutcomeTransient
		}
	}

	logger.Error("Failed to deliver item after retries", "max_attempts", maxAttempts)
	return OutcomeTransient
}

func (e *DeliveryEngine) backoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * e.config.BackoffUnit
}

func truncateForLog(s string) string {
	const limit = 50
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
