package domain

import "time"

// Article is a core entity ingested from the content provider.
type Article struct {
	ID           int64
	ProviderID   string
	SectionID    string
	SectionName  string
	WebTitle     string
	WebURL       string
	APIURL       string
	Headline     string
	TrailText    string
	BodyText     string
	Thumbnail    string
	PublishedAt  time.Time
	LastModified time.Time
	Embedding    []float32
	Tags         []Tag
	Contributors []Contributor
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasEmbedding reports whether a whole-article vector is attached.
func (a Article) HasEmbedding() bool {
	return len(a.Embedding) > 0
}

// Tag is a keyword reference attached to an article by the provider.
type Tag struct {
	TagID       string `json:"tag_id"`
	SectionID   string `json:"section_id,omitempty"`
	SectionName string `json:"section_name,omitempty"`
	WebTitle    string `json:"web_title"`
	WebURL      string `json:"web_url"`
	APIURL      string `json:"api_url"`
}

// Contributor is an author reference attached to an article by the provider.
type Contributor struct {
	ContributorID       string `json:"contributor_id"`
	WebTitle            string `json:"web_title"`
	WebURL              string `json:"web_url"`
	APIURL              string `json:"api_url"`
	Bio                 string `json:"bio,omitempty"`
	BylineImageURL      string `json:"byline_image_url,omitempty"`
	BylineLargeImageURL string `json:"byline_large_image_url,omitempty"`
	FirstName           string `json:"first_name,omitempty"`
	LastName            string `json:"last_name,omitempty"`
	TwitterHandle       string `json:"twitter_handle,omitempty"`
}

// Passage is a retrieval-sized span of an article body. Index is zero-based
// and unique within the owning article.
type Passage struct {
	ID        string
	ArticleID int64
	Index     int
	Text      string
	Embedding []float32
}

// Section is an entry of the provider taxonomy.
type Section struct {
	SectionID string
	WebTitle  string
	WebURL    string
	APIURL    string
}

// Granularity selects which embedding work-set a pipeline run processes.
type Granularity string

const (
	GranularityArticle Granularity = "articles"
	GranularityPassage Granularity = "passages"
)
