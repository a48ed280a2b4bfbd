// Package app runs the photo processing simulation behind the queue
// consumer: each delivered job drives one photo from QUEUED through
// PROCESSING to a terminal status, recording step events along the way.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/lifecycle"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/queue"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
)

// simStep is one stage of the simulated pipeline. Durations are drawn
// uniformly from [min, max).
type simStep struct {
	name     string
	message  string
	min, max time.Duration
}

var simSteps = []simStep{
	{name: "validate", message: "File validation completed", min: 500 * time.Millisecond, max: time.Second},
	{name: "metadata", message: "Metadata extracted", min: 500 * time.Millisecond, max: time.Second},
	{name: "thumbnail", message: "Thumbnail created", min: time.Second, max: 2 * time.Second},
	{name: "optimize", message: "Image optimization completed", min: 500 * time.Millisecond, max: time.Second},
}

// Config wires the processor dependencies.
type Config struct {
	Store  store.Store
	Hub    *notify.Hub
	Logger *slog.Logger
}

// Processor handles queue messages for the worker.
type Processor struct {
	store     store.Store
	lifecycle *lifecycle.Coordinator
	logger    *slog.Logger
	sleep     func(d time.Duration)
}

func New(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("notification hub required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     cfg.Store,
		lifecycle: lifecycle.NewCoordinator(cfg.Store, cfg.Hub, logger),
		logger:    logger,
		sleep:     time.Sleep,
	}, nil
}

// Handler returns the queue handler bound to this processor.
func (p *Processor) Handler() queue.Handler {
	return p.handle
}

// handle runs one delivered job end to end. Returning nil acks the
// message; delivery is at least once, so every branch here must be safe
// to repeat.
func (p *Processor) handle(ctx context.Context, msg queue.Message) error {
	logger := p.logger.With("photoId", msg.PhotoID, "messageId", msg.ID)

	if _, ok, err := p.store.GetPhoto(msg.PhotoID); err != nil {
		return fmt.Errorf("load photo %s: %w", msg.PhotoID, err)
	} else if !ok {
		logger.Warn("photo missing, dropping job")
		return nil
	}

	photo, err := p.lifecycle.Transition(msg.PhotoID, domain.StatusProcessing, "Photo processing started", nil)
	if err != nil {
		if errors.Is(err, lifecycle.ErrPhotoNotFound) {
			logger.Warn("photo vanished before processing, dropping job")
			return nil
		}
		return p.fail(logger, msg.PhotoID, err)
	}
	if photo.Status.Terminal() {
		// Redelivery of finished work.
		logger.Info("photo already terminal, dropping job", "status", photo.Status)
		return nil
	}

	if err := p.simulate(ctx, msg.PhotoID, logger); err != nil {
		return p.fail(logger, msg.PhotoID, err)
	}

	// A photo permanently deleted mid-flight has nothing to complete.
	if _, ok, err := p.store.GetPhoto(msg.PhotoID); err != nil {
		return p.fail(logger, msg.PhotoID, fmt.Errorf("reload photo: %w", err))
	} else if !ok {
		logger.Warn("photo deleted during processing, dropping job")
		return nil
	}

	if _, err := p.lifecycle.Transition(msg.PhotoID, domain.StatusCompleted, "Photo processing completed successfully", nil); err != nil {
		if errors.Is(err, lifecycle.ErrPhotoNotFound) {
			return nil
		}
		return p.fail(logger, msg.PhotoID, err)
	}
	logger.Info("photo processing completed")
	return nil
}

// simulate stands in for real image work. Steps always run to
// completion; cancellation is honored between steps so a half-done step
// is never recorded.
func (p *Processor) simulate(ctx context.Context, photoID string, logger *slog.Logger) error {
	for i, step := range simSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := stepDuration(step)
		p.sleep(d)

		meta, err := json.Marshal(map[string]any{"step": i + 1, "durationMs": d.Milliseconds()})
		if err != nil {
			return fmt.Errorf("encode %s step metadata: %w", step.name, err)
		}
		ev := domain.Event{
			ID:       uuid.NewString(),
			PhotoID:  photoID,
			Type:     domain.EventProcessing,
			Message:  step.message,
			Metadata: meta,
		}
		if err := p.store.AppendEvent(ev); err != nil {
			return fmt.Errorf("record %s step: %w", step.name, err)
		}
		logger.Debug("processing step completed", "step", step.name, "durationMs", d.Milliseconds())
	}
	return nil
}

func stepDuration(s simStep) time.Duration {
	spread := s.max - s.min
	if spread <= 0 {
		return s.min
	}
	return s.min + rand.N(spread)
}

// fail records the failure on the photo. Once FAILED commits (or the
// photo is already terminal or gone) the message acks: the failure is
// recorded and a retry cannot improve it. If the FAILED write itself
// errors the message stays pending for another attempt. Cancellation
// is not a failure; the interrupted job is left pending so a live
// consumer reclaims and reprocesses it.
func (p *Processor) fail(logger *slog.Logger, photoID string, cause error) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	logger.Error("photo processing failed", "error", cause)
	if _, err := p.lifecycle.Transition(photoID, domain.StatusFailed, fmt.Sprintf("Photo processing failed: %v", cause), nil); err != nil {
		if errors.Is(err, lifecycle.ErrPhotoNotFound) {
			return nil
		}
		logger.Error("could not record failure, leaving message pending", "error", err)
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
