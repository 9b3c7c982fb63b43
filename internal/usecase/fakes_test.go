package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"NewsRAG/internal/domain"
)

// memStore is an in-memory ports.Store used by use case tests.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	articles  map[int64]domain.Article
	passages  map[int64][]domain.Passage
	sections  map[string]domain.Section
	passHits  []domain.PassageHit
	artHits   []domain.ArticleHit
	insertErr error
	updateErr map[int64]error
	replaced  [][]int64
	inserts   int
	lookups   int
	searches  []searchCall
}

type searchCall struct {
	limit, candidates int
	exclude           int64
}

func newMemStore() *memStore {
	return &memStore{
		articles:  map[int64]domain.Article{},
		passages:  map[int64][]domain.Passage{},
		sections:  map[string]domain.Section{},
		updateErr: map[int64]error{},
	}
}

func (m *memStore) add(a domain.Article) domain.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	m.articles[a.ID] = a
	return a
}

func (m *memStore) LatestPublishedAt(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, a := range m.articles {
		if a.PublishedAt.After(latest) {
			latest = a.PublishedAt
		}
	}
	return latest, !latest.IsZero(), nil
}

func (m *memStore) KnownProviderIDs(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	out := map[string]bool{}
	for _, id := range ids {
		for _, a := range m.articles {
			if a.ProviderID == id {
				out[id] = true
			}
		}
	}
	return out, nil
}

func (m *memStore) InsertArticles(_ context.Context, articles []domain.Article) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	n := 0
outer:
	for _, a := range articles {
		for _, existing := range m.articles {
			if existing.ProviderID == a.ProviderID {
				continue outer
			}
		}
		m.nextID++
		a.ID = m.nextID
		m.articles[a.ID] = a
		n++
	}
	return n, nil
}

func (m *memStore) Article(_ context.Context, id int64) (domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return domain.Article{}, fmt.Errorf("article %d: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (m *memStore) ArticlesByIDs(_ context.Context, ids []int64) (map[int64]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]domain.Article{}
	for _, id := range ids {
		if a, ok := m.articles[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (m *memStore) sorted(filter func(domain.Article) bool, limit int) []domain.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Article
	for _, a := range m.articles {
		if filter(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) ArticlesWithoutEmbedding(_ context.Context, limit int) ([]domain.Article, error) {
	return m.sorted(func(a domain.Article) bool { return !a.HasEmbedding() }, limit), nil
}

func (m *memStore) ArticlesWithoutPassages(_ context.Context, limit int) ([]domain.Article, error) {
	return m.sorted(func(a domain.Article) bool { return len(m.passages[a.ID]) == 0 }, limit), nil
}

func (m *memStore) RecentArticles(_ context.Context, limit int) ([]domain.Article, error) {
	return m.sorted(func(domain.Article) bool { return true }, limit), nil
}

func (m *memStore) UpdateArticleEmbeddings(_ context.Context, vectors map[int64][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range vectors {
		if err := m.updateErr[id]; err != nil {
			return err
		}
	}
	for id, v := range vectors {
		a := m.articles[id]
		a.Embedding = v
		m.articles[id] = a
	}
	return nil
}

func (m *memStore) ReplacePassages(_ context.Context, articleIDs []int64, passages []domain.Passage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaced = append(m.replaced, append([]int64(nil), articleIDs...))
	next := map[int64][]domain.Passage{}
	seen := map[string]bool{}
	for _, p := range passages {
		key := fmt.Sprintf("%d/%d", p.ArticleID, p.Index)
		if seen[key] {
			return fmt.Errorf("%w: duplicate %s", domain.ErrConsistency, key)
		}
		seen[key] = true
		next[p.ArticleID] = append(next[p.ArticleID], p)
	}
	for _, id := range articleIDs {
		m.passages[id] = next[id]
	}
	return nil
}

func (m *memStore) UpsertSections(_ context.Context, sections []domain.Section) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, s := range sections {
		if _, ok := m.sections[s.SectionID]; !ok {
			created++
		}
		m.sections[s.SectionID] = s
	}
	return created, nil
}

func (m *memStore) Sections(context.Context) ([]domain.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Section, 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) SearchPassages(_ context.Context, _ []float32, limit, candidates int) ([]domain.PassageHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, searchCall{limit: limit, candidates: candidates})
	out := append([]domain.PassageHit(nil), m.passHits...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SearchArticles(_ context.Context, _ []float32, limit, candidates int, exclude int64) ([]domain.ArticleHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, searchCall{limit: limit, candidates: candidates, exclude: exclude})
	out := append([]domain.ArticleHit(nil), m.artHits...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// fakeProvider serves canned pages and records requests.
type fakeProvider struct {
	mu       sync.Mutex
	pages    map[int]domain.Page
	errs     map[int]error
	requests []domain.PageRequest
	sections []domain.Section
	// hang blocks the listed pages until the caller's context ends.
	hang map[int]bool
}

func (f *fakeProvider) FetchPage(ctx context.Context, req domain.PageRequest) (domain.Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	hang := f.hang[req.Page]
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return domain.Page{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[req.Page]; err != nil {
		return domain.Page{}, err
	}
	return f.pages[req.Page], nil
}

func (f *fakeProvider) FetchSections(context.Context) ([]domain.Section, error) {
	return f.sections, nil
}

// fakeEmbedder returns deterministic vectors and can fail selected calls.
type fakeEmbedder struct {
	mu     sync.Mutex
	dims   int
	calls  [][]string
	failOn func(texts []string) error
	short  bool
	// hangOn blocks matching calls until the caller's context ends.
	hangOn func(texts []string) bool
	// delay holds every call this long unless the context ends first.
	delay time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.hangOn != nil && f.hangOn(texts) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		if err := sleepContext(ctx, f.delay); err != nil {
			return nil, err
		}
	}

	if f.failOn != nil {
		if err := f.failOn(texts); err != nil {
			return nil, err
		}
	}
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, f.dims)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

// fakeModel replays scripted completions in order.
type fakeModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []prompt
	// hangAt blocks the call with this zero-based index until the context ends.
	hangAt int
	hang   bool
}

type prompt struct{ system, user string }

func (f *fakeModel) Complete(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt{system, user})
	f.mu.Unlock()

	if f.hang && i == f.hangAt {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i >= len(f.replies) {
		return "", errors.New("unexpected model call")
	}
	return f.replies[i], nil
}

// wordSplitter yields one passage per blank-line separated paragraph.
type wordSplitter struct{}

func (wordSplitter) SplitArticles(articles []domain.Article) []domain.Passage {
	var out []domain.Passage
	for _, a := range articles {
		index := 0
		for _, para := range strings.Split(a.BodyText, "\n\n") {
			if strings.TrimSpace(para) == "" {
				continue
			}
			out = append(out, domain.Passage{ArticleID: a.ID, Index: index, Text: strings.TrimSpace(para)})
			index++
		}
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }
