// Package splitter cuts article bodies into overlapping, token-bounded
// passages. Splits prefer natural boundaries (paragraph, line, sentence,
// word) and fall back to single characters, so they always terminate.
package splitter

import (
	"fmt"
	"strings"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// DefaultSeparators go from coarse to fine. The empty separator splits into
// characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Config holds passage sizing in tokens.
type Config struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

// Splitter is safe for concurrent use as long as its TokenCounter is.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
	counter    ports.TokenCounter
}

// New validates sizing and wires a token counter.
func New(cfg Config, counter ports.TokenCounter) (*Splitter, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrValidation, cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", domain.ErrValidation, cfg.Overlap, cfg.ChunkSize)
	}
	if counter == nil {
		return nil, fmt.Errorf("%w: token counter is required", domain.ErrValidation)
	}

	separators := cfg.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	if separators[len(separators)-1] != "" {
		separators = append(append([]string{}, separators...), "")
	}

	return &Splitter{
		chunkSize:  cfg.ChunkSize,
		overlap:    cfg.Overlap,
		separators: separators,
		counter:    counter,
	}, nil
}

// Split returns passages in document order. Empty or blank input yields nil.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if s.counter.Count(trimmed) <= s.chunkSize {
		return []string{trimmed}
	}
	return s.split(trimmed, s.separators)
}

// SplitArticles splits every article and numbers passages 0..n-1 per
// article. Articles producing no passage are absent from the result.
func (s *Splitter) SplitArticles(articles []domain.Article) []domain.Passage {
	var passages []domain.Passage
	for _, article := range articles {
		index := 0
		for _, text := range s.Split(article.BodyText) {
			passages = append(passages, domain.Passage{
				ArticleID: article.ID,
				Index:     index,
				Text:      text,
			})
			index++
		}
	}
	return passages
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitKeepingSeparator(text, separator) {
		if s.counter.Count(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, strings.TrimSpace(piece))
			continue
		}
		final = append(final, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}

	out := final[:0]
	for _, passage := range final {
		if passage != "" {
			out = append(out, passage)
		}
	}
	return out
}

// merge packs pieces into passages of at most chunkSize tokens and carries
// up to overlap tokens from the end of one passage into the next.
func (s *Splitter) merge(pieces []string) []string {
	var (
		docs    []string
		current []string
		lengths []int
		total   int
	)

	for _, piece := range pieces {
		length := s.counter.Count(piece)
		if total+length > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > s.overlap || (total+length > s.chunkSize && total > 0)) {
				total -= lengths[0]
				current = current[1:]
				lengths = lengths[1:]
			}
		}
		current = append(current, piece)
		lengths = append(lengths, length)
		total += length
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepingSeparator splits text on sep and keeps the separator at the
// start of the following piece, so joining the pieces restores the text.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	var pieces []string
	for {
		idx := strings.Index(text, sep)
		if idx < 0 {
			break
		}
		if idx > 0 {
			pieces = append(pieces, text[:idx])
		}
		text = text[idx:]
		next := strings.Index(text[len(sep):], sep)
		if next < 0 {
			break
		}
		pieces = append(pieces, text[:len(sep)+next])
		text = text[len(sep)+next:]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}
