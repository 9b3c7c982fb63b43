package scanner

import (
	"sort"
	"strings"
	"time"

	"NewsRAG/internal/domain"
)

// PageSizeTier maps a maximum bound age to the page size used for it.
type PageSizeTier struct {
	MaxAge   time.Duration
	PageSize int
}

// DefaultTiers keeps pages small when the bound is recent, so that a mostly
// duplicate page costs little.
var DefaultTiers = []PageSizeTier{
	{MaxAge: time.Hour, PageSize: 20},
	{MaxAge: 6 * time.Hour, PageSize: 50},
	{MaxAge: 12 * time.Hour, PageSize: 100},
	{MaxAge: 0, PageSize: 200},
}

// LowerBound computes the ingestion cursor: the later of the newest stored
// publication time and now minus the staleness window. With onlyRecent unset
// the staleness window alone applies. A zero result means "unbounded".
func LowerBound(latest time.Time, hasLatest bool, now time.Time, staleAfter time.Duration, onlyRecent bool) time.Time {
	if staleAfter <= 0 {
		if onlyRecent && hasLatest {
			return latest.UTC()
		}
		return time.Time{}
	}

	stale := now.Add(-staleAfter).UTC()
	if onlyRecent && hasLatest && latest.After(stale) {
		return latest.UTC()
	}
	return stale
}

// PageSizeFor picks the tier matching the distance between now and the
// bound. A positive override disables tiering. Tiers with MaxAge 0 act as
// the catch-all and are consulted last.
func PageSizeFor(bound, now time.Time, tiers []PageSizeTier, override int) int {
	if override > 0 {
		return override
	}
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}

	ordered := make([]PageSizeTier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].MaxAge == 0 {
			return false
		}
		if ordered[j].MaxAge == 0 {
			return true
		}
		return ordered[i].MaxAge < ordered[j].MaxAge
	})

	fallback := ordered[len(ordered)-1].PageSize
	if bound.IsZero() {
		return fallback
	}

	age := now.Sub(bound)
	for _, tier := range ordered {
		if tier.MaxAge > 0 && age <= tier.MaxAge {
			return tier.PageSize
		}
	}
	return fallback
}

// PageResult summarizes the scan of a single newest-first page.
type PageResult struct {
	Staged         []domain.Article
	SkippedKnown   int
	SkippedEmpty   int
	SkippedInvalid int
	ReachedCutoff  bool
}

// ScanPage walks items newest-first. It stops at the first item strictly
// older than bound; an item exactly at the bound is kept. Known ids and
// empty bodies are skipped. Staged ids are added to known.
func ScanPage(items []domain.ProviderItem, bound time.Time, known map[string]bool) PageResult {
	var result PageResult

	for _, item := range items {
		if item.ParseErr != nil {
			result.SkippedInvalid++
			continue
		}

		article := item.Article
		if !bound.IsZero() && article.PublishedAt.Before(bound) {
			result.ReachedCutoff = true
			break
		}

		if article.ProviderID == "" {
			result.SkippedInvalid++
			continue
		}
		if known[article.ProviderID] {
			result.SkippedKnown++
			continue
		}
		if strings.TrimSpace(article.BodyText) == "" {
			result.SkippedEmpty++
			continue
		}

		result.Staged = append(result.Staged, article)
		known[article.ProviderID] = true
	}

	return result
}

// ProviderIDs lists the external ids of all items on a page.
func ProviderIDs(items []domain.ProviderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Article.ProviderID != "" {
			ids = append(ids, item.Article.ProviderID)
		}
	}
	return ids
}
