package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glossarium/glossarium/pkg/models"
)

type fakeCache struct {
	cutoff  time.Time
	removed int
	err     error
}

func (f *fakeCache) GetPlanResponses(ctx context.Context, planHash string) ([]models.ToolResponseRef, error) {
	return nil, nil
}

func (f *fakeCache) UpsertPlanResponses(ctx context.Context, planHash, planID string, refs []models.ToolResponseRef) error {
	return nil
}

func (f *fakeCache) PrunePlanCache(ctx context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.removed, f.err
}

func TestRunCycleUsesTTLCutoff(t *testing.T) {
	cache := &fakeCache{removed: 3}
	j := NewJanitor(cache, 24*time.Hour, time.Hour)

	before := time.Now().Add(-24 * time.Hour)
	n := j.RunCycle(context.Background())
	after := time.Now().Add(-24 * time.Hour)

	if n != 3 {
		t.Errorf("expected 3 expired entries, got %d", n)
	}
	if cache.cutoff.Before(before) || cache.cutoff.After(after) {
		t.Errorf("cutoff %v not within [%v, %v]", cache.cutoff, before, after)
	}
}

func TestRunCycleSwallowsStoreErrors(t *testing.T) {
	cache := &fakeCache{err: errors.New("connection refused")}
	j := NewJanitor(cache, time.Hour, time.Hour)

	if n := j.RunCycle(context.Background()); n != 0 {
		t.Errorf("expected 0 on store error, got %d", n)
	}
}

func TestStartDisabledWithZeroTTL(t *testing.T) {
	cache := &fakeCache{}
	j := NewJanitor(cache, 0, time.Hour)

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when ttl is zero")
	}
	if !cache.cutoff.IsZero() {
		t.Error("disabled janitor should never prune")
	}
}

func TestIntervalFloor(t *testing.T) {
	j := NewJanitor(&fakeCache{}, time.Hour, time.Second)
	if j.interval != MinInterval {
		t.Errorf("expected interval floor %v, got %v", MinInterval, j.interval)
	}
}
