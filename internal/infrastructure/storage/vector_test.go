package storage

import (
	"errors"
	"math"
	"testing"

	"NewsRAG/internal/domain"
)

func TestVectorLiteralRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0.5, -1.25, 3, 1e-7}
	lit := vectorLiteral(in)
	if lit[0] != '[' || lit[len(lit)-1] != ']' {
		t.Fatalf("unexpected literal %q", lit)
	}

	out, err := parseVectorLiteral(lit)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length changed: %v", out)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("component %d: got %v want %v", i, out[i], in[i])
		}
	}
}

func TestParseVectorLiteralRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "1,2", "[1,x]"} {
		if _, err := parseVectorLiteral(in); !errors.Is(err, domain.ErrConsistency) {
			t.Fatalf("parseVectorLiteral(%q) err = %v", in, err)
		}
	}
	if v, err := parseVectorLiteral("[]"); err != nil || len(v) != 0 {
		t.Fatalf("empty literal: %v %v", v, err)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{1, -2.5, float32(math.Pi)}
	out, err := decodeBlob(encodeBlob(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("component %d: got %v want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeBlob([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"dimension mismatch", []float32{1}, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		if got := cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidatePassages(t *testing.T) {
	t.Parallel()

	vec := []float32{1, 0}
	ok := []domain.Passage{{ArticleID: 1, Index: 0, Embedding: vec}, {ArticleID: 1, Index: 1, Embedding: vec}}
	if err := validatePassages([]int64{1}, ok, 2); err != nil {
		t.Fatalf("valid passages rejected: %v", err)
	}

	cases := map[string][]domain.Passage{
		"outside batch": {{ArticleID: 2, Index: 0, Embedding: vec}},
		"dimension":     {{ArticleID: 1, Index: 0, Embedding: []float32{1}}},
		"no vector":     {{ArticleID: 1, Index: 0}},
	}
	for name, passages := range cases {
		if err := validatePassages([]int64{1}, passages, 2); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	duplicate := []domain.Passage{{ArticleID: 1, Index: 0, Embedding: vec}, {ArticleID: 1, Index: 0, Embedding: vec}}
	err := validatePassages([]int64{1}, duplicate, 2)
	if !errors.Is(err, domain.ErrConsistency) || errors.Is(err, domain.ErrValidation) {
		t.Fatalf("duplicate index: expected consistency violation, got %v", err)
	}
}
