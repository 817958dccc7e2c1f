// Package embed defines the embedding provider collaborator and vector
// helpers used by the agent matcher and plan similarity detector.
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Mode selects the asymmetric embedding task type. Document mode embeds
// stored material (executor profiles, recorded plans); query mode embeds
// the text being searched with (task descriptions, new plans). Matching
// the mode to the role improves ranking accuracy.
type Mode string

const (
	ModeDocument Mode = "document"
	ModeQuery    Mode = "query"
)

// Provider supplies semantic vectors for text. Implementations are
// typically remote services and may be slow or unreliable.
type Provider interface {
	Embed(ctx context.Context, text string, mode Mode) ([]float64, error)
}

// Cosine returns the cosine similarity of two vectors in [-1,1].
// Mismatched lengths or zero vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HashProvider is a deterministic, dependency-free provider: each token
// hashes into a bucket of a fixed-size vector. It captures lexical
// overlap only, not semantics, but needs no external service. Useful as
// a local fallback and in tests.
type HashProvider struct {
	Dims int // Vector size, default 64
}

// Embed never fails and ignores the mode: hashing is symmetric.
func (h *HashProvider) Embed(_ context.Context, text string, _ Mode) ([]float64, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = 64
	}

	vec := make([]float64, dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?()[]{}\"'")
		if token == "" {
			continue
		}
		f := fnv.New32a()
		f.Write([]byte(token))
		vec[int(f.Sum32())%dims]++
	}
	return vec, nil
}
