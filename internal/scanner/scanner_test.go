package scanner

import (
	"errors"
	"testing"
	"time"

	"NewsRAG/internal/domain"
)

var now = time.Date(2025, time.November, 8, 12, 0, 0, 0, time.UTC)

func item(id string, published time.Time, body string) domain.ProviderItem {
	return domain.ProviderItem{
		Article: domain.Article{ProviderID: id, PublishedAt: published, BodyText: body},
	}
}

func TestLowerBound(t *testing.T) {
	t.Parallel()

	recent := now.Add(-2 * time.Hour)
	old := now.Add(-48 * time.Hour)

	tests := []struct {
		name       string
		latest     time.Time
		hasLatest  bool
		onlyRecent bool
		stale      time.Duration
		want       time.Time
	}{
		{name: "empty store uses stale window", stale: 24 * time.Hour, onlyRecent: true, want: now.Add(-24 * time.Hour)},
		{name: "recent latest wins", latest: recent, hasLatest: true, stale: 24 * time.Hour, onlyRecent: true, want: recent},
		{name: "stale latest falls back to window", latest: old, hasLatest: true, stale: 24 * time.Hour, onlyRecent: true, want: now.Add(-24 * time.Hour)},
		{name: "ignore recent uses window", latest: recent, hasLatest: true, stale: 24 * time.Hour, want: now.Add(-24 * time.Hour)},
		{name: "no window and ignore recent is unbounded", latest: recent, hasLatest: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := LowerBound(tt.latest, tt.hasLatest, now, tt.stale, tt.onlyRecent)
			if !got.Equal(tt.want) {
				t.Fatalf("LowerBound = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPageSizeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bound    time.Time
		override int
		want     int
	}{
		{name: "within an hour", bound: now.Add(-30 * time.Minute), want: 20},
		{name: "exactly one hour", bound: now.Add(-time.Hour), want: 20},
		{name: "five hours", bound: now.Add(-5 * time.Hour), want: 50},
		{name: "ten hours", bound: now.Add(-10 * time.Hour), want: 100},
		{name: "a day", bound: now.Add(-24 * time.Hour), want: 200},
		{name: "unbounded", want: 200},
		{name: "override wins", bound: now.Add(-30 * time.Minute), override: 7, want: 7},
	}

	for _, tt := range tests {
		if got := PageSizeFor(tt.bound, now, DefaultTiers, tt.override); got != tt.want {
			t.Fatalf("%s: PageSizeFor = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestPageSizeForUnorderedTiers(t *testing.T) {
	t.Parallel()

	tiers := []PageSizeTier{
		{MaxAge: 0, PageSize: 150},
		{MaxAge: 3 * time.Hour, PageSize: 30},
		{MaxAge: time.Hour, PageSize: 10},
	}
	if got := PageSizeFor(now.Add(-2*time.Hour), now, tiers, 0); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	if got := PageSizeFor(now.Add(-10*time.Minute), now, tiers, 0); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if got := PageSizeFor(now.Add(-5*time.Hour), now, tiers, 0); got != 150 {
		t.Fatalf("expected 150, got %d", got)
	}
}

func TestScanPageCutoffIsInclusive(t *testing.T) {
	t.Parallel()

	bound := now.Add(-3 * time.Hour)
	items := []domain.ProviderItem{
		item("a", now.Add(-time.Hour), "body a"),
		item("b", now.Add(-2*time.Hour), "body b"),
		item("c", bound, "body c"),
		item("d", bound.Add(-time.Second), "body d"),
		item("e", bound.Add(-time.Hour), "body e"),
	}

	result := ScanPage(items, bound, map[string]bool{})
	if !result.ReachedCutoff {
		t.Fatalf("expected cutoff to be reached")
	}
	if len(result.Staged) != 3 {
		t.Fatalf("expected 3 staged, got %d", len(result.Staged))
	}
	for i, id := range []string{"a", "b", "c"} {
		if result.Staged[i].ProviderID != id {
			t.Fatalf("staged[%d] = %s, want %s", i, result.Staged[i].ProviderID, id)
		}
	}
}

func TestScanPageSkipsKnownEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	known := map[string]bool{"known": true}
	items := []domain.ProviderItem{
		item("known", now, "body"),
		item("empty", now, "   \n\t"),
		{PublishedRaw: "yesterday-ish", ParseErr: errors.New("bad time")},
		item("fresh", now, "fresh body"),
		item("fresh", now, "duplicate within the page"),
	}

	result := ScanPage(items, time.Time{}, known)
	if result.ReachedCutoff {
		t.Fatalf("unbounded scan must not reach a cutoff")
	}
	if result.SkippedKnown != 2 || result.SkippedEmpty != 1 || result.SkippedInvalid != 1 {
		t.Fatalf("unexpected skip counts: %+v", result)
	}
	if len(result.Staged) != 1 || result.Staged[0].ProviderID != "fresh" {
		t.Fatalf("unexpected staged: %+v", result.Staged)
	}
	if !known["fresh"] {
		t.Fatalf("staged id must be recorded as known")
	}
}

func TestProviderIDs(t *testing.T) {
	t.Parallel()

	ids := ProviderIDs([]domain.ProviderItem{item("a", now, "x"), {}, item("b", now, "y")})
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
