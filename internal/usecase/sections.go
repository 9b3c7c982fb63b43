package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// SectionReport counts the outcome of a taxonomy sync.
type SectionReport struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// SectionSync copies the provider taxonomy into the store.
type SectionSync struct {
	provider ports.ContentProvider
	sections ports.SectionRepository
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSectionSync constructs the sync use case.
func NewSectionSync(provider ports.ContentProvider, sections ports.SectionRepository, timeout time.Duration, logger *slog.Logger) *SectionSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &SectionSync{provider: provider, sections: sections, timeout: timeout, logger: logger}
}

// Sync fetches sections, drops retired ones and upserts the rest by section id.
func (s *SectionSync) Sync(ctx context.Context) (SectionReport, error) {
	var report SectionReport

	fetched, err := callWithTimeout(ctx, s.timeout, s.provider.FetchSections)
	if err != nil {
		return report, fmt.Errorf("fetch sections: %w", err)
	}

	keep := make([]domain.Section, 0, len(fetched))
	for _, section := range fetched {
		if section.SectionID == "" || strings.Contains(strings.ToLower(section.WebTitle), "do not use") {
			continue
		}
		keep = append(keep, section)
	}
	report.Fetched = len(keep)

	created, err := callWithTimeout(ctx, s.timeout, func(ctx context.Context) (int, error) {
		return s.sections.UpsertSections(ctx, keep)
	})
	if err != nil {
		return report, fmt.Errorf("store sections: %w", err)
	}
	report.Created = created
	report.Updated = len(keep) - created

	s.logger.Info("sections synced", "fetched", report.Fetched, "created", report.Created, "updated", report.Updated)
	return report, nil
}
