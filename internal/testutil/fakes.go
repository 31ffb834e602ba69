package testutil

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// VocabEmbedder is a deterministic bag-of-words embedder. Each distinct
// lowercased word gets its own axis, so texts sharing words have positive
// cosine similarity and texts sharing none are orthogonal. Words beyond
// Dim axes wrap around.
type VocabEmbedder struct {
	Dim int
	Err error

	mu    sync.Mutex
	vocab map[string]int
	calls int
}

func NewVocabEmbedder(dim int) *VocabEmbedder {
	return &VocabEmbedder{Dim: dim, vocab: make(map[string]int)}
}

func (e *VocabEmbedder) Dimension() int { return e.Dim }

func (e *VocabEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *VocabEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.Err != nil {
		return nil, e.Err
	}

	v := make([]float32, e.Dim)
	for _, w := range Words(text) {
		idx, ok := e.vocab[w]
		if !ok {
			idx = len(e.vocab) % e.Dim
			e.vocab[w] = idx
		}
		v[idx]++
	}
	return v, nil
}

// Calls reports how many texts were embedded.
func (e *VocabEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Words lowercases text and splits it on anything that is not a letter or digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// EchoGenerator answers with the retrieved context, recording each call.
type EchoGenerator struct {
	Err error

	mu           sync.Mutex
	systemPrompt string
	retrieved    string
	query        string
}

func (g *EchoGenerator) Generate(ctx context.Context, systemPrompt, retrieved, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.systemPrompt, g.retrieved, g.query = systemPrompt, retrieved, query
	if g.Err != nil {
		return "", g.Err
	}
	if retrieved == "" {
		return "I don't know.", nil
	}
	return "Based on the documents: " + retrieved, nil
}

// Last returns the arguments of the most recent call.
func (g *EchoGenerator) Last() (systemPrompt, retrieved, query string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.systemPrompt, g.retrieved, g.query
}
