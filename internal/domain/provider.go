package domain

import "time"

// PageRequest describes one newest-first page fetch. A zero From means no
// lower bound is applied.
type PageRequest struct {
	Page     int
	PageSize int
	From     time.Time
}

// Page is one decoded provider page.
type Page struct {
	Items      []ProviderItem
	TotalPages int
}

// ProviderItem wraps a provider result mapped to an Article. PublishedRaw is
// kept so that unparseable timestamps can be reported.
type ProviderItem struct {
	Article      Article
	PublishedRaw string
	ParseErr     error
}
