package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// QA stages reported in domain.QAError.
const (
	StageLoad     = "load"
	StageRefine   = "refine"
	StageRetrieve = "retrieve"
	StageAnswer   = "answer"
)

const defaultQATopK = 5

const refineSystemPrompt = `You are a query optimization assistant.
Your task: rewrite the user's question into a concise, context-aware query for semantic vector search.
The goal is to help retrieve the most relevant text chunks.
Keep the rewritten query clear, short, and relevant to the article.
Respond with a single JSON object of the form {"refined_query": "..."} and nothing else.`

var answerSystemPrompt = `You are an expert assistant tasked with answering user questions using only the provided chunks and article.
Never invent facts. If an answer is not found in the chunks or the article, answer exactly "` + domain.RefusalAnswer + `"
Be concise, factual, and neutral.
Respond with a single JSON object and nothing else:
{"answer": "...", "used_chunks": [{"chunk_id": "<id of a chunk you used>", "excerpt": "<verbatim excerpt from that chunk>"}]}
List only chunks you actually used. Use an empty list when the answer relies on the article alone or when you cannot answer.`

// PassageRetriever supplies supporting passages for a refined query.
type PassageRetriever interface {
	Passages(ctx context.Context, query string, k int) ([]domain.SupportingPassage, error)
}

// AnswererDeps wires the QA orchestrator.
type AnswererDeps struct {
	Articles  ports.ArticleRepository
	Retriever PassageRetriever
	Model     ports.LanguageModel
	TopK      int
	// Timeout bounds each store and model call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Answerer runs refine, retrieve and grounded-answer stages in sequence.
type Answerer struct {
	articles  ports.ArticleRepository
	retriever PassageRetriever
	model     ports.LanguageModel
	topK      int
	timeout   time.Duration
	logger    *slog.Logger
}

// NewAnswerer constructs the QA orchestrator.
func NewAnswerer(deps AnswererDeps) *Answerer {
	a := &Answerer{
		articles:  deps.Articles,
		retriever: deps.Retriever,
		model:     deps.Model,
		topK:      deps.TopK,
		timeout:   deps.Timeout,
		logger:    deps.Logger,
	}
	if a.topK <= 0 {
		a.topK = defaultQATopK
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

type answerPayload struct {
	Answer     string      `json:"answer"`
	UsedChunks []usedChunk `json:"used_chunks"`
}

type usedChunk struct {
	ChunkID string `json:"chunk_id"`
	Excerpt string `json:"excerpt"`
}

// Answer answers question about the anchor article. Every failure is a
// *domain.QAError; a refusal is a successful Answer with Refused set.
func (a *Answerer) Answer(ctx context.Context, articleID int64, question string) (domain.Answer, error) {
	logger := a.logger.With("request_id", uuid.NewString(), "article_id", articleID)

	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, &domain.QAError{Stage: StageLoad, Err: fmt.Errorf("%w: empty question", domain.ErrValidation)}
	}

	article, err := callWithTimeout(ctx, a.timeout, func(ctx context.Context) (domain.Article, error) {
		return a.articles.Article(ctx, articleID)
	})
	if err != nil {
		return domain.Answer{}, &domain.QAError{Stage: StageLoad, Err: err}
	}

	refined, err := a.refine(ctx, article, question)
	if err != nil {
		return domain.Answer{}, &domain.QAError{Stage: StageRefine, Err: err}
	}
	logger.Debug("question refined", "refined_query", refined)

	passages, err := a.retriever.Passages(ctx, refined, a.topK)
	if err != nil {
		return domain.Answer{}, &domain.QAError{Stage: StageRetrieve, Err: err}
	}
	logger.Debug("passages retrieved", "count", len(passages))

	answer, err := a.answer(ctx, article, question, passages)
	if err != nil {
		return domain.Answer{}, &domain.QAError{Stage: StageAnswer, Err: err}
	}
	answer.Question = question
	answer.RefinedQuery = refined

	logger.Info("question answered", "refused", answer.Refused, "citations", len(answer.Citations))
	return answer, nil
}

func (a *Answerer) refine(ctx context.Context, article domain.Article, question string) (string, error) {
	raw, err := callWithTimeout(ctx, a.timeout, func(ctx context.Context) (string, error) {
		return a.model.Complete(ctx, refineSystemPrompt, refineUserPrompt(article, question))
	})
	if err != nil {
		return "", err
	}

	var refined domain.RefinedQuery
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &refined); err != nil {
		return "", fmt.Errorf("%w: refined query is not valid JSON: %v", domain.ErrModelOutput, err)
	}
	query := strings.TrimSpace(refined.Query)
	if query == "" {
		return "", fmt.Errorf("%w: empty refined query", domain.ErrModelOutput)
	}
	return query, nil
}

func (a *Answerer) answer(ctx context.Context, article domain.Article, question string, passages []domain.SupportingPassage) (domain.Answer, error) {
	raw, err := callWithTimeout(ctx, a.timeout, func(ctx context.Context) (string, error) {
		return a.model.Complete(ctx, answerSystemPrompt, answerUserPrompt(article, question, passages))
	})
	if err != nil {
		return domain.Answer{}, err
	}

	var payload answerPayload
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &payload); err != nil {
		return domain.Answer{}, fmt.Errorf("%w: answer is not valid JSON: %v", domain.ErrModelOutput, err)
	}
	text := strings.TrimSpace(payload.Answer)
	if text == "" {
		return domain.Answer{}, fmt.Errorf("%w: empty answer", domain.ErrModelOutput)
	}

	if domain.IsRefusal(text) {
		return domain.Answer{Text: domain.RefusalAnswer, Refused: true, Citations: []domain.Citation{}}, nil
	}
	return domain.Answer{Text: text, Citations: buildCitations(payload.UsedChunks, passages)}, nil
}

// buildCitations keeps citations of retrieved passages only, attaches the
// stored article metadata and drops duplicates. An excerpt that is not a
// verbatim span of the passage is replaced by the passage text.
func buildCitations(used []usedChunk, passages []domain.SupportingPassage) []domain.Citation {
	byID := make(map[string]domain.SupportingPassage, len(passages))
	for _, p := range passages {
		byID[p.Hit.PassageID] = p
	}

	seen := make(map[string]struct{}, len(used))
	citations := make([]domain.Citation, 0, len(used))
	for _, u := range used {
		id := strings.TrimSpace(u.ChunkID)
		p, ok := byID[id]
		if !ok {
			continue
		}
		excerpt := strings.TrimSpace(u.Excerpt)
		if excerpt == "" || !strings.Contains(p.Hit.Text, excerpt) {
			excerpt = p.Hit.Text
		}
		key := id + "\x00" + excerpt
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		citations = append(citations, domain.Citation{
			PassageID:    id,
			Excerpt:      excerpt,
			ArticleID:    p.Hit.ArticleID,
			ArticleTitle: p.ArticleTitle,
			ArticleURL:   p.ArticleURL,
		})
	}
	return citations
}

func refineUserPrompt(article domain.Article, question string) string {
	var sb strings.Builder
	sb.WriteString("Article context:\n")
	fmt.Fprintf(&sb, "Title: %s\nSection: %s\n\nArticle:\n%s\n\n", article.WebTitle, article.SectionName, article.BodyText)
	fmt.Fprintf(&sb, "Original question:\n%s\n\nRefined query:", question)
	return sb.String()
}

func answerUserPrompt(article domain.Article, question string, passages []domain.SupportingPassage) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the information below. Do not invent information.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n\n", question)
	fmt.Fprintf(&sb, "Article title: %s\nSection: %s\n\n", article.WebTitle, article.SectionName)
	fmt.Fprintf(&sb, "Article Body:\n%s\n\n", article.BodyText)
	sb.WriteString("Reference material that may help answer the question:\n")
	for i, p := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Chunk %s] %s", p.Hit.PassageID, p.Hit.Text)
	}
	return sb.String()
}

// cleanJSONResponse strips code fences and prose around the JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
