package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/ordercore/internal/domain"
)

func TestProbeHealthRepository_AllHealthy(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository(func() time.Time { return now },
		DependencyCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		DependencyCheck{Name: "redis", Check: func(context.Context) error { return nil }},
	)
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestProbeHealthRepository_FailureDegrades(t *testing.T) {
	repo, err := NewProbeHealthRepository(nil,
		DependencyCheck{Name: "postgres", Check: func(context.Context) error { return errors.New("boom") }},
		DependencyCheck{Name: "redis", Check: func(context.Context) error { return nil }},
	)
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if got := report.Checks["postgres"].Detail; got != "boom" {
		t.Fatalf("expected detail boom, got %q", got)
	}
}

func TestProbeHealthRepository_Timeout(t *testing.T) {
	repo, err := NewProbeHealthRepository(nil, DependencyCheck{
		Name:    "firestore",
		Timeout: 5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(200 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, _ := repo.Collect(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if got := report.Checks["firestore"].Detail; got != "timeout" {
		t.Fatalf("expected timeout detail, got %q", got)
	}
}

func TestNewProbeHealthRepository_RequiresChecks(t *testing.T) {
	if _, err := NewProbeHealthRepository(nil, DependencyCheck{Name: " "}); err == nil {
		t.Fatalf("expected error when no usable checks are supplied")
	}
}
