package splitter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"NewsRAG/internal/ports"
)

// WordCounter counts whitespace-separated fields. It needs no model files.
type WordCounter struct{}

var _ ports.TokenCounter = WordCounter{}

// Count returns the number of words in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// TiktokenCounter counts BPE tokens with a tiktoken encoding. The encoding is
// loaded on first use; tiktoken-go caches the vocabulary under
// TIKTOKEN_CACHE_DIR when set.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

var _ ports.TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter prepares a counter for the named encoding (e.g. cl100k_base).
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{encoding: encoding}
}

// Load resolves the encoding eagerly so configuration errors surface at startup.
func (c *TiktokenCounter) Load() error {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
		if c.err != nil {
			c.err = fmt.Errorf("load tiktoken encoding %s: %w", c.encoding, c.err)
		}
	})
	return c.err
}

// Count returns the token count, falling back to a word count when the
// encoding could not be loaded.
func (c *TiktokenCounter) Count(text string) int {
	if err := c.Load(); err != nil {
		return WordCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter builds the counter named in configuration: "words" or a
// tiktoken encoding name.
func NewCounter(name string) (ports.TokenCounter, error) {
	if strings.EqualFold(strings.TrimSpace(name), "words") {
		return WordCounter{}, nil
	}
	counter := NewTiktokenCounter(name)
	if err := counter.Load(); err != nil {
		return nil, err
	}
	return counter, nil
}
