package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"sync/atomic"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/llm"
)

// Corpus is the pre-embedded guideline passage set. It is immutable after
// construction; reloading a new corpus version swaps the Handle instead.
type Corpus struct {
	passages []model.GuidelinePassage
}

func New(passages []model.GuidelinePassage) *Corpus {
	cp := make([]model.GuidelinePassage, len(passages))
	copy(cp, passages)
	return &Corpus{passages: cp}
}

type corpusFile struct {
	Passages []model.GuidelinePassage `json:"passages"`
}

// LoadFile reads a JSON corpus file of the form {"passages": [...]}.
func LoadFile(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus file '%s': %w", path, err)
	}
	var f corpusFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse corpus file '%s': %w", path, err)
	}
	return New(f.Passages), nil
}

func (c *Corpus) Len() int {
	return len(c.passages)
}

func (c *Corpus) Passages() []model.GuidelinePassage {
	return c.passages
}

// WithEmbeddings returns a new corpus where passages missing an embedding
// have one computed via the embedder. Passages that still fail to embed are
// kept without a vector and simply never match a search.
func (c *Corpus) WithEmbeddings(ctx context.Context, embedder llm.EmbedderClient) (*Corpus, error) {
	out := make([]model.GuidelinePassage, len(c.passages))
	copy(out, c.passages)
	for i := range out {
		if len(out[i].Embedding) > 0 {
			continue
		}
		vec, err := embedder.Embed(ctx, out[i].Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed passage %s: %w", out[i].PassageID, err)
		}
		out[i].Embedding = vec
	}
	return &Corpus{passages: out}, nil
}

// Search returns the topK passages by cosine similarity against query,
// descending. Scores are mapped from [-1,1] into [0,1]. Ties break by source
// recency (version year, newest first) then lexical passage ID.
func (c *Corpus) Search(query []float32, topK int) []model.RetrievedPassage {
	if len(query) == 0 || topK <= 0 {
		return nil
	}

	var scored []model.RetrievedPassage
	for _, p := range c.passages {
		if len(p.Embedding) != len(query) {
			continue
		}
		sim, ok := cosine(query, p.Embedding)
		if !ok {
			continue
		}
		scored = append(scored, model.RetrievedPassage{
			Passage: p,
			Score:   (sim + 1) / 2,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Passage.VersionYear != scored[j].Passage.VersionYear {
			return scored[i].Passage.VersionYear > scored[j].Passage.VersionYear
		}
		return scored[i].Passage.PassageID < scored[j].Passage.PassageID
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func cosine(a, b []float32) (float64, bool) {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// Handle is the process-wide pointer to the current corpus. Reads take no
// lock; a reload swaps the pointer atomically.
type Handle struct {
	ptr atomic.Pointer[Corpus]
}

func NewHandle(c *Corpus) *Handle {
	h := &Handle{}
	h.ptr.Store(c)
	return h
}

func (h *Handle) Get() *Corpus {
	return h.ptr.Load()
}

func (h *Handle) Swap(c *Corpus) {
	h.ptr.Store(c)
}
