package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"NewsRAG/internal/config"
	"NewsRAG/internal/domain"
)

const maxDescription = 500

// RenderRSS builds an RSS 2.0 document from articles in the given order.
func RenderRSS(articles []domain.Article, cfg config.FeedConfig, now time.Time) (string, error) {
	feed := &feeds.Feed{
		Title:       cfg.Title,
		Link:        &feeds.Link{Href: cfg.Link},
		Description: cfg.Description,
		Author:      &feeds.Author{Name: cfg.Author},
		Created:     now,
	}

	feed.Items = make([]*feeds.Item, 0, len(articles))
	for _, article := range articles {
		item := &feeds.Item{
			Title:       articleTitle(article),
			Link:        &feeds.Link{Href: article.WebURL},
			Id:          article.ProviderID,
			Description: description(article),
			Created:     article.PublishedAt,
			Updated:     article.LastModified,
		}
		if names := contributorNames(article.Contributors); names != "" {
			item.Author = &feeds.Author{Name: names}
		}
		if article.Thumbnail != "" {
			item.Enclosure = &feeds.Enclosure{Url: article.Thumbnail, Type: "image/jpeg", Length: "0"}
		}
		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to generate RSS: %w", err)
	}
	return rss, nil
}

func articleTitle(article domain.Article) string {
	switch {
	case article.WebTitle != "":
		return article.WebTitle
	case article.Headline != "":
		return article.Headline
	default:
		return "Untitled Article"
	}
}

func description(article domain.Article) string {
	text := strings.TrimSpace(article.TrailText)
	if text == "" {
		text = strings.TrimSpace(article.BodyText)
	}
	runes := []rune(text)
	if len(runes) > maxDescription {
		return string(runes[:maxDescription]) + "..."
	}
	return text
}

func contributorNames(contributors []domain.Contributor) string {
	names := make([]string, 0, len(contributors))
	for _, c := range contributors {
		if c.WebTitle != "" {
			names = append(names, c.WebTitle)
		}
	}
	return strings.Join(names, ", ")
}
