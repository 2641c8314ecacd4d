package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sunpath-crm/sunpath-go/internal/domain"
	"github.com/sunpath-crm/sunpath-go/internal/repo"
)

type fakeStagesReader struct {
	calls  int
	stages map[string][]domain.Stage
	err    error
}

func (f *fakeStagesReader) List(ctx context.Context, tenantID string, workflow domain.Workflow) ([]domain.Stage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stages[tenantID+"/"+string(workflow)], nil
}

func testStages(tenantID string, keys ...string) []domain.Stage {
	stages := make([]domain.Stage, 0, len(keys))
	for i, key := range keys {
		stages = append(stages, domain.Stage{
			TenantID: tenantID,
			Workflow: domain.WorkflowPipeline,
			Key:      key,
			Name:     key,
			Ord:      i + 1,
		})
	}
	return stages
}

func TestCacheServesFromMemory(t *testing.T) {
	reader := &fakeStagesReader{stages: map[string][]domain.Stage{
		"tenant-a/pipeline": testStages("tenant-a", "lead", "qualified"),
	}}
	cache := NewCache(reader, time.Minute)

	for i := 0; i < 3; i++ {
		stages, err := cache.Stages(context.Background(), "tenant-a", domain.WorkflowPipeline)
		if err != nil {
			t.Fatalf("Stages: %v", err)
		}
		if len(stages) != 2 || stages[0].Key != "lead" {
			t.Fatalf("unexpected stages %+v", stages)
		}
	}
	if reader.calls != 1 {
		t.Fatalf("expected one repository read, got %d", reader.calls)
	}
}

func TestCacheExpires(t *testing.T) {
	reader := &fakeStagesReader{stages: map[string][]domain.Stage{
		"tenant-a/pipeline": testStages("tenant-a", "lead"),
	}}
	cache := NewCache(reader, time.Minute)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	if _, err := cache.Stages(context.Background(), "tenant-a", domain.WorkflowPipeline); err != nil {
		t.Fatalf("Stages: %v", err)
	}
	clock = clock.Add(30 * time.Second)
	if _, err := cache.Stages(context.Background(), "tenant-a", domain.WorkflowPipeline); err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if reader.calls != 1 {
		t.Fatalf("expected cached read before ttl, got %d calls", reader.calls)
	}

	clock = clock.Add(31 * time.Second)
	if _, err := cache.Stages(context.Background(), "tenant-a", domain.WorkflowPipeline); err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if reader.calls != 2 {
		t.Fatalf("expected refresh after ttl, got %d calls", reader.calls)
	}
}

func TestCacheInvalidate(t *testing.T) {
	reader := &fakeStagesReader{stages: map[string][]domain.Stage{
		"tenant-a/pipeline": testStages("tenant-a", "lead"),
		"tenant-b/pipeline": testStages("tenant-b", "lead"),
	}}
	cache := NewCache(reader, time.Hour)

	ctx := context.Background()
	if _, err := cache.Stages(ctx, "tenant-a", domain.WorkflowPipeline); err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if _, err := cache.Stages(ctx, "tenant-b", domain.WorkflowPipeline); err != nil {
		t.Fatalf("Stages: %v", err)
	}

	cache.Invalidate("tenant-a")

	if _, err := cache.Stages(ctx, "tenant-b", domain.WorkflowPipeline); err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if reader.calls != 2 {
		t.Fatalf("invalidate must not evict other tenants, got %d calls", reader.calls)
	}
	if _, err := cache.Stages(ctx, "tenant-a", domain.WorkflowPipeline); err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if reader.calls != 3 {
		t.Fatalf("expected reload for invalidated tenant, got %d calls", reader.calls)
	}
}

func TestCachePropagatesReadErrors(t *testing.T) {
	readErr := errors.New("connection refused")
	reader := &fakeStagesReader{err: readErr}
	cache := NewCache(reader, time.Minute)

	if _, err := cache.Stages(context.Background(), "tenant-a", domain.WorkflowPipeline); !errors.Is(err, readErr) {
		t.Fatalf("expected read error, got %v", err)
	}

	// Errors are not cached.
	reader.err = nil
	reader.stages = map[string][]domain.Stage{
		"tenant-a/pipeline": testStages("tenant-a", "lead"),
	}
	stages, err := cache.Stages(context.Background(), "tenant-a", domain.WorkflowPipeline)
	if err != nil {
		t.Fatalf("Stages after recovery: %v", err)
	}
	if len(stages) != 1 {
		t.Fatalf("unexpected stages %+v", stages)
	}
}

func TestCacheStageLookup(t *testing.T) {
	reader := &fakeStagesReader{stages: map[string][]domain.Stage{
		"tenant-a/pipeline": testStages("tenant-a", "lead", "qualified"),
	}}
	cache := NewCache(reader, time.Minute)

	stage, err := cache.Stage(context.Background(), "tenant-a", domain.WorkflowPipeline, "qualified")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if stage.Key != "qualified" || stage.Ord != 2 {
		t.Fatalf("unexpected stage %+v", stage)
	}

	if _, err := cache.Stage(context.Background(), "tenant-a", domain.WorkflowPipeline, "escalation"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
