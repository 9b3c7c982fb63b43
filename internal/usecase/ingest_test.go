package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/logging"
)

var ingestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func providerItem(id string, published time.Time, body string) domain.ProviderItem {
	return domain.ProviderItem{Article: domain.Article{
		ProviderID:  id,
		WebTitle:    "Title " + id,
		BodyText:    body,
		PublishedAt: published,
	}}
}

func newTestIngestor(provider *fakeProvider, store *memStore) *Ingestor {
	return NewIngestor(IngestDeps{
		Provider: provider,
		Articles: store,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return ingestNow },
		Sleep:    noSleep,
	})
}

func TestIngestOnceStopsAtCutoff(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.add(domain.Article{ProviderID: "old", PublishedAt: ingestNow.Add(-2 * time.Hour), BodyText: "x"})

	bound := ingestNow.Add(-2 * time.Hour)
	provider := &fakeProvider{pages: map[int]domain.Page{
		1: {TotalPages: 5, Items: []domain.ProviderItem{
			providerItem("n1", ingestNow.Add(-10*time.Minute), "body one"),
			providerItem("n2", ingestNow.Add(-time.Hour), "body two"),
			providerItem("edge", bound, "exactly at the bound"),
			providerItem("past", bound.Add(-time.Second), "older than the bound"),
			providerItem("never", bound.Add(-time.Hour), "not reached"),
		}},
	}}

	report, err := newTestIngestor(provider, store).IngestOnce(context.Background(), IngestOptions{
		StaleAfter: 24 * time.Hour,
		OnlyRecent: true,
		MaxPages:   10,
	})
	if err != nil {
		t.Fatalf("IngestOnce: %v", err)
	}

	if report.Saved != 3 {
		t.Fatalf("expected 3 saved (inclusive bound), got %d", report.Saved)
	}
	if report.StopReason != StopCutoff {
		t.Fatalf("expected cutoff stop, got %s", report.StopReason)
	}
	if !report.LowerBound.Equal(bound) {
		t.Fatalf("expected bound %v, got %v", bound, report.LowerBound)
	}
	if len(provider.requests) != 1 || !provider.requests[0].From.Equal(bound) {
		t.Fatalf("unexpected requests: %+v", provider.requests)
	}
	// The bound is two hours old: tier "up to 6h" applies.
	if report.PageSize != 50 {
		t.Fatalf("expected tiered page size 50, got %d", report.PageSize)
	}
	if report.RunID == "" {
		t.Fatalf("run id missing")
	}
}

func TestIngestOnceIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	provider := &fakeProvider{pages: map[int]domain.Page{
		1: {TotalPages: 1, Items: []domain.ProviderItem{
			providerItem("a", ingestNow.Add(-time.Minute), "alpha"),
			providerItem("b", ingestNow.Add(-2*time.Minute), "beta"),
		}},
	}}
	ingestor := newTestIngestor(provider, store)
	opts := IngestOptions{StaleAfter: 24 * time.Hour, OnlyRecent: false}

	first, err := ingestor.IngestOnce(context.Background(), opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := ingestor.IngestOnce(context.Background(), opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Saved != 2 || second.Saved != 0 {
		t.Fatalf("expected 2 then 0 saved, got %d then %d", first.Saved, second.Saved)
	}
	if second.SkippedKnown != 2 || second.StopReason != StopAllKnown {
		t.Fatalf("unexpected second report: %+v", second)
	}
}

func TestIngestOnceWalksPagesUntilLastPage(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	provider := &fakeProvider{pages: map[int]domain.Page{
		1: {TotalPages: 2, Items: []domain.ProviderItem{
			providerItem("p1", ingestNow.Add(-time.Minute), "one"),
			providerItem("dup", ingestNow.Add(-2*time.Minute), "dup"),
			providerItem("empty", ingestNow.Add(-3*time.Minute), "   "),
		}},
		2: {TotalPages: 2, Items: []domain.ProviderItem{
			providerItem("dup", ingestNow.Add(-2*time.Minute), "dup"),
			providerItem("p2", ingestNow.Add(-4*time.Minute), "two"),
			{PublishedRaw: "yesterday", ParseErr: fmt.Errorf("%w: bad date", domain.ErrValidation)},
		}},
	}}

	var sleeps []time.Duration
	ingestor := NewIngestor(IngestDeps{
		Provider: provider,
		Articles: store,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return ingestNow },
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	})

	report, err := ingestor.IngestOnce(context.Background(), IngestOptions{
		StaleAfter: 24 * time.Hour,
		PageSize:   3,
		PageDelay:  time.Second,
	})
	if err != nil {
		t.Fatalf("IngestOnce: %v", err)
	}

	if report.Saved != 3 || report.Pages != 2 {
		t.Fatalf("expected 3 saved over 2 pages, got %+v", report)
	}
	if report.SkippedKnown != 1 || report.SkippedEmpty != 1 || report.SkippedInvalid != 1 {
		t.Fatalf("unexpected skip counts: %+v", report)
	}
	if report.StopReason != StopLastPage {
		t.Fatalf("expected last_page, got %s", report.StopReason)
	}
	if len(sleeps) != 1 || sleeps[0] != time.Second {
		t.Fatalf("expected one pacing delay, got %v", sleeps)
	}
	for _, req := range provider.requests {
		if req.PageSize != 3 {
			t.Fatalf("override page size ignored: %+v", req)
		}
	}
}

func TestIngestOnceRespectsPageCap(t *testing.T) {
	t.Parallel()

	pages := map[int]domain.Page{}
	for p := 1; p <= 5; p++ {
		pages[p] = domain.Page{TotalPages: 5, Items: []domain.ProviderItem{
			providerItem(fmt.Sprintf("id-%d", p), ingestNow.Add(-time.Duration(p)*time.Minute), "body"),
		}}
	}
	provider := &fakeProvider{pages: pages}

	report, err := newTestIngestor(provider, newMemStore()).IngestOnce(context.Background(), IngestOptions{
		StaleAfter: 24 * time.Hour,
		MaxPages:   2,
	})
	if err != nil {
		t.Fatalf("IngestOnce: %v", err)
	}
	if report.Pages != 2 || report.StopReason != StopPageCap {
		t.Fatalf("expected page cap after 2 pages, got %+v", report)
	}
}

func TestIngestOnceStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: map[int]domain.Page{1: {TotalPages: 0}}}
	report, err := newTestIngestor(provider, newMemStore()).IngestOnce(context.Background(), IngestOptions{StaleAfter: time.Hour})
	if err != nil {
		t.Fatalf("IngestOnce: %v", err)
	}
	if report.StopReason != StopNoResults || report.Saved != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestIngestOnceAbortsOnTransportErrorKeepingCommittedPages(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	provider := &fakeProvider{
		pages: map[int]domain.Page{
			1: {TotalPages: 3, Items: []domain.ProviderItem{providerItem("a", ingestNow.Add(-time.Minute), "alpha")}},
		},
		errs: map[int]error{2: fmt.Errorf("dial: %w", domain.ErrTransport)},
	}

	report, err := newTestIngestor(provider, store).IngestOnce(context.Background(), IngestOptions{StaleAfter: 24 * time.Hour})
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if report.Saved != 1 {
		t.Fatalf("first page should stay committed, report %+v", report)
	}
	if len(provider.requests) != 2 {
		t.Fatalf("page must not be retried, requests %d", len(provider.requests))
	}
	if _, ok, _ := store.LatestPublishedAt(context.Background()); !ok {
		t.Fatalf("store should contain the first page")
	}
}

func TestIngestOnceAbortsWhenPacingIsCancelled(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: map[int]domain.Page{
		1: {TotalPages: 3, Items: []domain.ProviderItem{providerItem("a", ingestNow.Add(-time.Minute), "alpha")}},
	}}
	ingestor := NewIngestor(IngestDeps{
		Provider: provider,
		Articles: newMemStore(),
		Logger:   logging.Discard(),
		Now:      func() time.Time { return ingestNow },
		Sleep:    func(context.Context, time.Duration) error { return context.Canceled },
	})

	_, err := ingestor.IngestOnce(context.Background(), IngestOptions{StaleAfter: 24 * time.Hour, PageDelay: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestIngestOnceUnboundedBackfill(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{pages: map[int]domain.Page{
		1: {TotalPages: 9, Items: []domain.ProviderItem{providerItem("a", ingestNow.Add(-48*time.Hour), "alpha")}},
		2: {TotalPages: 9, Items: []domain.ProviderItem{providerItem("a", ingestNow.Add(-48*time.Hour), "alpha")}},
	}}

	report, err := newTestIngestor(provider, newMemStore()).IngestOnce(context.Background(), IngestOptions{MaxPages: 2})
	if err != nil {
		t.Fatalf("IngestOnce: %v", err)
	}
	if !report.LowerBound.IsZero() || !provider.requests[0].From.IsZero() {
		t.Fatalf("expected unbounded run, got bound %v", report.LowerBound)
	}
	if report.PageSize != 200 {
		t.Fatalf("unbounded run should use the largest tier, got %d", report.PageSize)
	}
	// A fully known page does not stop an unbounded run; the cap does.
	if report.Pages != 2 || report.StopReason != StopPageCap || report.Saved != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
