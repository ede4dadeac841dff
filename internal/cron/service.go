package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/quietloop/fennec/internal/bus"
)

const scanInterval = 30 * time.Second

// Service scans the job store and fires due jobs as inbound messages on
// the "cron" channel, so scheduled work goes through the same agent
// pipeline as chat messages.
type Service struct {
	store *Store
	bus   *bus.MessageBus
	gron  *gronx.Gronx
}

func NewService(store *Store, msgBus *bus.MessageBus) *Service {
	return &Service{store: store, bus: msgBus, gron: gronx.New()}
}

// Validate reports whether expr is a parseable cron expression.
func (s *Service) Validate(expr string) bool {
	return s.gron.IsValid(expr)
}

// Add validates and stores a new job, returning its id.
func (s *Service) Add(name, schedule, message, deliverChannel, deliverChatID string) (Job, error) {
	if !s.gron.IsValid(schedule) {
		return Job{}, fmt.Errorf("invalid cron expression %q", schedule)
	}
	next, err := gronx.NextTick(schedule, false)
	if err != nil {
		return Job{}, fmt.Errorf("compute next run: %w", err)
	}

	job := Job{
		ID:             uuid.NewString(),
		Name:           name,
		Schedule:       schedule,
		Message:        message,
		DeliverChannel: deliverChannel,
		DeliverChatID:  deliverChatID,
		Enabled:        true,
		CreatedAt:      time.Now(),
		NextRun:        next,
	}
	if err := s.store.Add(job); err != nil {
		return Job{}, err
	}
	slog.Info("cron job added", "job", name, "schedule", schedule, "next_run", next)
	return job, nil
}

// List returns all stored jobs.
func (s *Service) List() ([]Job, error) { return s.store.List() }

// Remove deletes a job.
func (s *Service) Remove(id string) (bool, error) { return s.store.Remove(id) }

// SetEnabled enables or disables a job. Enabling recomputes the next run
// so a long-disabled job does not fire immediately for missed ticks.
func (s *Service) SetEnabled(id string, enabled bool) (bool, error) {
	ok, err := s.store.SetEnabled(id, enabled)
	if err != nil || !ok {
		return ok, err
	}
	if enabled {
		jobs, err := s.store.List()
		if err != nil {
			return true, nil
		}
		for _, j := range jobs {
			if j.ID != id {
				continue
			}
			if next, err := gronx.NextTick(j.Schedule, false); err == nil {
				_ = s.store.MarkRun(id, time.Now(), next)
			}
		}
	}
	return true, nil
}

// Run scans for due jobs until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	slog.Info("cron scheduler started", "interval", scanInterval)
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cron scheduler stopped")
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

func (s *Service) fireDue(now time.Time) {
	due, err := s.store.Due(now)
	if err != nil {
		slog.Error("cron due scan failed", "error", err)
		return
	}

	for _, job := range due {
		slog.Info("cron job firing", "job", job.Name, "id", job.ID)

		meta := map[string]any{"job_id": job.ID, "job_name": job.Name}
		if job.DeliverChannel != "" {
			meta["deliver_channel"] = job.DeliverChannel
			meta["deliver_chat_id"] = job.DeliverChatID
		}
		s.bus.PublishInbound(bus.InboundMessage{
			Channel:   "cron",
			SenderID:  "cron",
			ChatID:    job.ID,
			Content:   job.Message,
			Timestamp: now,
			Metadata:  meta,
		})

		next, err := gronx.NextTick(job.Schedule, false)
		if err != nil {
			slog.Error("cron next-run computation failed, disabling job",
				"job", job.Name, "error", err)
			_, _ = s.store.SetEnabled(job.ID, false)
			continue
		}
		if err := s.store.MarkRun(job.ID, now, next); err != nil {
			slog.Error("cron mark-run failed", "job", job.Name, "error", err)
		}
	}
}
