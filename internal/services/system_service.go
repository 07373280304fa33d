package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Critical names the checks whose failure makes the service unable to take orders. A failing
	// check outside this set only degrades the report. When empty every check is critical.
	Critical []string
	Clock    func() time.Time
	Build    BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	critical   map[string]struct{}
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service providing health reports.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock().UTC()
	}

	var critical map[string]struct{}
	for _, name := range deps.Critical {
		if name = strings.TrimSpace(name); name != "" {
			if critical == nil {
				critical = make(map[string]struct{}, len(deps.Critical))
			}
			critical[name] = struct{}{}
		}
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		critical:   critical,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
	}, nil
}

// HealthReport collects dependency checks and grades them. A critical check in error makes the whole
// report an error; anything else that is not ok degrades it.
func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	if ctx == nil {
		return HealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.HealthCheck{}
	}
	report.Status = s.grade(report.Checks)
	return report, nil
}

func (s *systemService) grade(checks map[string]domain.HealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for name, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			if s.isCritical(name) {
				return domain.HealthStatusError
			}
			status = domain.HealthStatusDegraded
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}

func (s *systemService) isCritical(name string) bool {
	if s.critical == nil {
		return true
	}
	_, ok := s.critical[name]
	return ok
}
