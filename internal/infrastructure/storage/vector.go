package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"NewsRAG/internal/domain"
)

// vectorLiteral renders a vector in the pgvector text form "[1,2,3]".
func vectorLiteral(v []float32) string {
	buf := make([]byte, 0, len(v)*10+2)
	buf = append(buf, '[')
	for i, x := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(x), 'f', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}

// parseVectorLiteral is the inverse of vectorLiteral.
func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: malformed vector literal", domain.ErrConsistency)
	}
	body := s[1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: vector component %d: %v", domain.ErrConsistency, i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// encodeBlob packs a vector as little-endian float32 values.
func encodeBlob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeBlob(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob length %d", domain.ErrConsistency, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// cosine returns the cosine similarity of two vectors, 0 when either is a
// zero vector or the dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func checkDimensions(v []float32, dims int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrValidation)
	}
	if dims > 0 && len(v) != dims {
		return fmt.Errorf("%w: vector has %d dimensions, store expects %d", domain.ErrValidation, len(v), dims)
	}
	return nil
}
