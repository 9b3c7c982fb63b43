package domain

import "strings"

// PassageHit is a single similarity match over passage vectors.
type PassageHit struct {
	PassageID string
	ArticleID int64
	Index     int
	Text      string
	Score     float64
}

// ArticleHit is a single similarity match over whole-article vectors.
type ArticleHit struct {
	ArticleID int64
	Score     float64
}

// RankedArticle is a hydrated search result. PassageID is empty for
// article-level similarity results.
type RankedArticle struct {
	Article   Article
	Score     float64
	PassageID string
}

// SupportingPassage is a QA retrieval result carrying its source article.
type SupportingPassage struct {
	Hit          PassageHit
	ArticleTitle string
	ArticleURL   string
}

// RefusalAnswer is emitted when the supplied material does not contain the answer.
const RefusalAnswer = "I don't have enough information to answer that question."

// IsRefusal matches the refusal string, tolerating typographic apostrophes
// and trailing punctuation differences.
func IsRefusal(text string) bool {
	normalize := func(s string) string {
		s = strings.ReplaceAll(s, "’", "'")
		s = strings.TrimSpace(strings.ToLower(s))
		return strings.TrimRight(s, ". ")
	}
	return normalize(text) == normalize(RefusalAnswer)
}

// RefinedQuery is the structured output of the query refinement stage.
type RefinedQuery struct {
	Query string `json:"refined_query"`
}

// Citation ties a used excerpt to the article it came from.
type Citation struct {
	PassageID    string `json:"passage_id"`
	Excerpt      string `json:"excerpt"`
	ArticleID    int64  `json:"article_id"`
	ArticleTitle string `json:"article_title"`
	ArticleURL   string `json:"article_url"`
}

// Answer is the outcome of a successful QA request. Refused marks the
// explicit insufficient-information answer.
type Answer struct {
	Question     string     `json:"question"`
	RefinedQuery string     `json:"refined_query"`
	Text         string     `json:"answer"`
	Refused      bool       `json:"refused"`
	Citations    []Citation `json:"citations"`
}
