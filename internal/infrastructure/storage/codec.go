package storage

import (
	"encoding/json"
	"fmt"

	"NewsRAG/internal/domain"
)

const maxInsertRows = 500

// articleColumns is the shared select list; embedding is rendered per dialect.
var articleColumns = []string{
	"id", "provider_id", "section_id", "section_name", "web_title", "web_url", "api_url",
	"headline", "trail_text", "body_text", "thumbnail", "published_at", "last_modified",
}

var articleInsertColumns = []string{
	"provider_id", "section_id", "section_name", "web_title", "web_url", "api_url",
	"headline", "trail_text", "body_text", "thumbnail", "published_at", "last_modified",
	"tags", "contributors",
}

func marshalRefs(article domain.Article) (tags string, contributors string, err error) {
	t := article.Tags
	if t == nil {
		t = []domain.Tag{}
	}
	c := article.Contributors
	if c == nil {
		c = []domain.Contributor{}
	}

	rawTags, err := json.Marshal(t)
	if err != nil {
		return "", "", fmt.Errorf("marshal tags: %w", err)
	}
	rawContributors, err := json.Marshal(c)
	if err != nil {
		return "", "", fmt.Errorf("marshal contributors: %w", err)
	}
	return string(rawTags), string(rawContributors), nil
}

func unmarshalRefs(article *domain.Article, tags, contributors string) error {
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &article.Tags); err != nil {
			return fmt.Errorf("%w: article %d tags: %v", domain.ErrConsistency, article.ID, err)
		}
	}
	if contributors != "" {
		if err := json.Unmarshal([]byte(contributors), &article.Contributors); err != nil {
			return fmt.Errorf("%w: article %d contributors: %v", domain.ErrConsistency, article.ID, err)
		}
	}
	return nil
}

func chunkRows[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = maxInsertRows
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// validatePassages enforces that every passage belongs to the batch, carries
// a vector of the store dimension and that indices are unique per article.
func validatePassages(articleIDs []int64, passages []domain.Passage, dims int) error {
	allowed := make(map[int64]struct{}, len(articleIDs))
	for _, id := range articleIDs {
		allowed[id] = struct{}{}
	}

	type key struct {
		article int64
		index   int
	}
	seen := make(map[key]struct{}, len(passages))
	for _, p := range passages {
		if _, ok := allowed[p.ArticleID]; !ok {
			return fmt.Errorf("%w: passage for article %d outside batch", domain.ErrValidation, p.ArticleID)
		}
		if p.Index < 0 {
			return fmt.Errorf("%w: negative passage index for article %d", domain.ErrValidation, p.ArticleID)
		}
		k := key{p.ArticleID, p.Index}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: duplicate passage index %d for article %d", domain.ErrConsistency, p.Index, p.ArticleID)
		}
		seen[k] = struct{}{}
		if err := checkDimensions(p.Embedding, dims); err != nil {
			return fmt.Errorf("passage %d of article %d: %w", p.Index, p.ArticleID, err)
		}
	}
	return nil
}
