package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

const (
	defaultBaseURL = "https://content.guardianapis.com"
	showFields     = "headline,trailText,standfirst,byline,body,bodyText,thumbnail,firstPublicationDate,lastModified"
	showTags       = "keyword,contributor"
	contentType    = "article"
	fromDateLayout = "2006-01-02T15:04:05Z"
)

// GuardianClient fetches pages and sections from a Guardian-style content API.
type GuardianClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ ports.ContentProvider = (*GuardianClient)(nil)

// NewGuardianClient wires an HTTP client; a nil client gets a 10s timeout.
func NewGuardianClient(baseURL, apiKey string, client *http.Client) *GuardianClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &GuardianClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type searchEnvelope struct {
	Response struct {
		Status  string       `json:"status"`
		Pages   int          `json:"pages"`
		Results []resultItem `json:"results"`
	} `json:"response"`
}

type resultItem struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	SectionID          string    `json:"sectionId"`
	SectionName        string    `json:"sectionName"`
	WebPublicationDate string    `json:"webPublicationDate"`
	WebTitle           string    `json:"webTitle"`
	WebURL             string    `json:"webUrl"`
	APIURL             string    `json:"apiUrl"`
	Fields             fields    `json:"fields"`
	Tags               []tagItem `json:"tags"`
}

type fields struct {
	Headline     string `json:"headline"`
	TrailText    string `json:"trailText"`
	Body         string `json:"body"`
	BodyText     string `json:"bodyText"`
	Thumbnail    string `json:"thumbnail"`
	LastModified string `json:"lastModified"`
}

type tagItem struct {
	ID                  string `json:"id"`
	Type                string `json:"type"`
	SectionID           string `json:"sectionId"`
	SectionName         string `json:"sectionName"`
	WebTitle            string `json:"webTitle"`
	WebURL              string `json:"webUrl"`
	APIURL              string `json:"apiUrl"`
	Bio                 string `json:"bio"`
	BylineImageURL      string `json:"bylineImageUrl"`
	BylineLargeImageURL string `json:"bylineLargeImageUrl"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	TwitterHandle       string `json:"twitterHandle"`
}

// FetchPage requests one newest-first page. It never retries.
func (g *GuardianClient) FetchPage(ctx context.Context, req domain.PageRequest) (domain.Page, error) {
	pageURL, err := g.buildSearchURL(req)
	if err != nil {
		return domain.Page{}, err
	}

	var envelope searchEnvelope
	if err := g.getJSON(ctx, pageURL, &envelope); err != nil {
		return domain.Page{}, fmt.Errorf("fetch page %d: %w", req.Page, err)
	}

	page := domain.Page{
		TotalPages: envelope.Response.Pages,
		Items:      make([]domain.ProviderItem, 0, len(envelope.Response.Results)),
	}
	for _, result := range envelope.Response.Results {
		page.Items = append(page.Items, result.toProviderItem())
	}

	return page, nil
}

// FetchSections lists the section taxonomy, dropping retired sections.
func (g *GuardianClient) FetchSections(ctx context.Context) ([]domain.Section, error) {
	sectionsURL, err := g.buildURL("/sections", url.Values{})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Response struct {
			Results []struct {
				ID       string `json:"id"`
				WebTitle string `json:"webTitle"`
				WebURL   string `json:"webUrl"`
				APIURL   string `json:"apiUrl"`
			} `json:"results"`
		} `json:"response"`
	}
	if err := g.getJSON(ctx, sectionsURL, &envelope); err != nil {
		return nil, fmt.Errorf("fetch sections: %w", err)
	}

	sections := make([]domain.Section, 0, len(envelope.Response.Results))
	for _, sec := range envelope.Response.Results {
		if strings.Contains(strings.ToLower(sec.WebTitle), "do not use") {
			continue
		}
		sections = append(sections, domain.Section{
			SectionID: sec.ID,
			WebTitle:  sec.WebTitle,
			WebURL:    sec.WebURL,
			APIURL:    sec.APIURL,
		})
	}
	return sections, nil
}

func (g *GuardianClient) buildSearchURL(req domain.PageRequest) (string, error) {
	if req.Page < 1 {
		return "", fmt.Errorf("%w: page must start at 1, got %d", domain.ErrValidation, req.Page)
	}
	if req.PageSize < 1 {
		return "", fmt.Errorf("%w: page size must be positive, got %d", domain.ErrValidation, req.PageSize)
	}

	query := url.Values{}
	query.Set("show-fields", showFields)
	query.Set("show-tags", showTags)
	query.Set("page-size", strconv.Itoa(req.PageSize))
	query.Set("page", strconv.Itoa(req.Page))
	query.Set("order-by", "newest")
	query.Set("type", contentType)
	if !req.From.IsZero() {
		query.Set("from-date", req.From.UTC().Format(fromDateLayout))
	}
	return g.buildURL("/search", query)
}

func (g *GuardianClient) buildURL(path string, query url.Values) (string, error) {
	parsed, err := url.Parse(g.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid provider url %s: %w", g.baseURL, err)
	}
	if g.apiKey != "" {
		query.Set("api-key", g.apiKey)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (g *GuardianClient) getJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "NewsRAG/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.ProviderError{
			Service:    "content provider",
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrTransport, err)
	}
	return nil
}

// errorMessage extracts "message" from either the top level or the
// "response" object of an error body.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message  string `json:"message"`
		Response struct {
			Message string `json:"message"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Response.Message != "" {
			return body.Response.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 256 {
		return text
	}
	return fallback
}

func (r resultItem) toProviderItem() domain.ProviderItem {
	item := domain.ProviderItem{PublishedRaw: r.WebPublicationDate}

	published, err := time.Parse(time.RFC3339, r.WebPublicationDate)
	if err != nil {
		item.ParseErr = fmt.Errorf("%w: article %s: publication date %q: %w", domain.ErrValidation, r.ID, r.WebPublicationDate, err)
	}

	body := r.Fields.BodyText
	if strings.TrimSpace(body) == "" && strings.TrimSpace(r.Fields.Body) != "" {
		body = htmlToText(r.Fields.Body)
	}

	article := domain.Article{
		ProviderID:  r.ID,
		SectionID:   r.SectionID,
		SectionName: r.SectionName,
		WebTitle:    r.WebTitle,
		WebURL:      r.WebURL,
		APIURL:      r.APIURL,
		Headline:    r.Fields.Headline,
		TrailText:   r.Fields.TrailText,
		BodyText:    body,
		Thumbnail:   r.Fields.Thumbnail,
		PublishedAt: published.UTC(),
	}
	if modified, err := time.Parse(time.RFC3339, r.Fields.LastModified); err == nil {
		article.LastModified = modified.UTC()
	}

	for _, tag := range r.Tags {
		switch tag.Type {
		case "contributor":
			article.Contributors = append(article.Contributors, domain.Contributor{
				ContributorID:       tag.ID,
				WebTitle:            tag.WebTitle,
				WebURL:              tag.WebURL,
				APIURL:              tag.APIURL,
				Bio:                 tag.Bio,
				BylineImageURL:      tag.BylineImageURL,
				BylineLargeImageURL: tag.BylineLargeImageURL,
				FirstName:           tag.FirstName,
				LastName:            tag.LastName,
				TwitterHandle:       tag.TwitterHandle,
			})
		case "keyword":
			article.Tags = append(article.Tags, domain.Tag{
				TagID:       tag.ID,
				SectionID:   tag.SectionID,
				SectionName: tag.SectionName,
				WebTitle:    tag.WebTitle,
				WebURL:      tag.WebURL,
				APIURL:      tag.APIURL,
			})
		}
	}

	item.Article = article
	return item
}
