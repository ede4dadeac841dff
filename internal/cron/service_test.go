package cron

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quietloop/fennec/internal/bus"
)

func newTestService(t *testing.T) (*Service, *bus.MessageBus) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	msgBus := bus.New()
	return NewService(store, msgBus), msgBus
}

func TestAddValidatesSchedule(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Add("bad", "not a cron expr", "msg", "", ""); err == nil {
		t.Error("invalid schedule accepted")
	}

	job, err := svc.Add("daily", "0 9 * * *", "morning briefing", "telegram", "42")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" || !job.Enabled {
		t.Errorf("job = %+v", job)
	}
	if job.NextRun.IsZero() {
		t.Error("next run not computed")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	added, err := svc.Add("reminder", "*/5 * * * *", "check the oven", "", "")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	jobs, err := svc.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs", len(jobs))
	}
	got := jobs[0]
	if got.ID != added.ID || got.Name != "reminder" || got.Schedule != "*/5 * * * *" || got.Message != "check the oven" {
		t.Errorf("job = %+v", got)
	}

	ok, err := svc.SetEnabled(added.ID, false)
	if err != nil || !ok {
		t.Fatalf("SetEnabled: ok=%v err=%v", ok, err)
	}
	jobs, _ = svc.List()
	if jobs[0].Enabled {
		t.Error("job still enabled")
	}

	ok, err = svc.Remove(added.ID)
	if err != nil || !ok {
		t.Fatalf("Remove: ok=%v err=%v", ok, err)
	}
	jobs, _ = svc.List()
	if len(jobs) != 0 {
		t.Errorf("%d jobs remain after remove", len(jobs))
	}
}

func TestFireDuePublishesInbound(t *testing.T) {
	svc, msgBus := newTestService(t)

	job, err := svc.Add("due-now", "* * * * *", "wake up", "discord", "chan9")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Force the job due.
	if err := svc.store.MarkRun(job.ID, time.Now().Add(-2*time.Minute), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("MarkRun: %v", err)
	}

	svc.fireDue(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message fired")
	}
	if msg.Channel != "cron" || msg.Content != "wake up" || msg.ChatID != job.ID {
		t.Errorf("inbound = %+v", msg)
	}
	if msg.Metadata["deliver_channel"] != "discord" || msg.Metadata["deliver_chat_id"] != "chan9" {
		t.Errorf("metadata = %+v", msg.Metadata)
	}

	// Firing advances next_run, so the job is not due again immediately.
	svc.bus.CompleteInboundTurn("cron:" + job.ID)
	svc.fireDue(time.Now())
	if msgBus.InboundBacklog() != 0 {
		t.Error("job fired twice in the same minute")
	}
}

func TestDisabledJobNeverFires(t *testing.T) {
	svc, msgBus := newTestService(t)

	job, _ := svc.Add("sleeping", "* * * * *", "nope", "", "")
	svc.store.MarkRun(job.ID, time.Now().Add(-2*time.Minute), time.Now().Add(-time.Minute))
	svc.SetEnabled(job.ID, false)

	svc.fireDue(time.Now())
	if msgBus.InboundBacklog() != 0 {
		t.Error("disabled job fired")
	}
}
