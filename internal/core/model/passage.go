package model

// GuidelinePassage is a retrievable unit of the reference corpus. Loaded once
// at process start and never mutated at request time.
type GuidelinePassage struct {
	PassageID   string    `json:"passage_id"`
	Source      string    `json:"source"` // guideline name + version, e.g. "Fleischner 2017"
	VersionYear int       `json:"version_year,omitempty"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// RetrievedPassage pairs a passage with its similarity score in [0,1].
type RetrievedPassage struct {
	Passage GuidelinePassage `json:"passage"`
	Score   float64          `json:"score"`
}

// RetrievalResult is the ordered (descending score) candidate set for one
// finding. An empty result is a valid lower-confidence path, not an error.
type RetrievalResult struct {
	FindingID string             `json:"finding_id"`
	Passages  []RetrievedPassage `json:"passages"`
}

func (r RetrievalResult) Empty() bool {
	return len(r.Passages) == 0
}

// Contains reports whether the result includes the given passage ID. The
// reasoner uses this to enforce that citations only name passages it was shown.
func (r RetrievalResult) Contains(passageID string) bool {
	for _, p := range r.Passages {
		if p.Passage.PassageID == passageID {
			return true
		}
	}
	return false
}
