package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/corpus"
	"github.com/AmulyaVeldandi/AuDRA/internal/llm"
)

// Retriever maps one finding onto the top-k most similar guideline passages.
// An empty corpus, a missing embedder, or an embedding failure all yield an
// empty result; "no guideline found" is a valid lower-confidence path the
// downstream stages route to review, never an error here.
type Retriever struct {
	Embedder llm.EmbedderClient
	Corpus   *corpus.Handle
	TopK     int
	Timeout  time.Duration
	Logger   zerolog.Logger
}

func NewRetriever(embedder llm.EmbedderClient, handle *corpus.Handle, topK int, timeout time.Duration, logger zerolog.Logger) *Retriever {
	return &Retriever{
		Embedder: embedder,
		Corpus:   handle,
		TopK:     topK,
		Timeout:  timeout,
		Logger:   logger,
	}
}

// BuildQuery composes the retrieval query text from the structured finding.
func BuildQuery(f model.Finding) string {
	var parts []string
	parts = append(parts, strings.ReplaceAll(string(f.Type), "_", " "))
	if f.SizeMM != nil {
		parts = append(parts, fmt.Sprintf("%g mm", *f.SizeMM))
	}
	if f.Location != "" {
		parts = append(parts, f.Location)
	}
	parts = append(parts, f.Characteristics...)
	return strings.Join(parts, ", ")
}

// Retrieve returns the ranked candidate set. The returned error is
// informational (recorded in the audit trail); the result is still usable.
func (r *Retriever) Retrieve(ctx context.Context, f model.Finding) (model.RetrievalResult, error) {
	result := model.RetrievalResult{FindingID: f.FindingID}

	if r.Embedder == nil {
		return result, fmt.Errorf("no embedding client configured")
	}
	c := r.Corpus.Get()
	if c == nil || c.Len() == 0 {
		return result, fmt.Errorf("guideline corpus is empty")
	}

	cctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	query := BuildQuery(f)
	vec, err := r.Embedder.Embed(cctx, query)
	if err != nil {
		r.Logger.Warn().Err(err).Str("finding_id", f.FindingID).Msg("embedding failed, returning empty retrieval")
		return result, fmt.Errorf("embedding failed: %w", err)
	}

	result.Passages = c.Search(vec, r.TopK)
	return result, nil
}
