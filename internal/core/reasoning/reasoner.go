package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/common"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/llm"
)

// ErrUncitedPassage marks a reply citing a passage the reasoner was never
// shown. This must not happen; the orchestrator treats it as an internal
// defect and routes the finding to review instead of emitting an uncited task.
var ErrUncitedPassage = errors.New("recommendation cites a passage that was not retrieved")

// Reasoner derives exactly one recommendation per finding from the retrieved
// guideline passages.
type Reasoner struct {
	LLM        llm.LLMClient
	Prompt     string
	MaxRetries int
	Timeout    time.Duration
	Logger     zerolog.Logger
}

func NewReasoner(llmClient llm.LLMClient, prompt string, maxRetries int, timeout time.Duration, logger zerolog.Logger) *Reasoner {
	return &Reasoner{
		LLM:        llmClient,
		Prompt:     prompt,
		MaxRetries: maxRetries,
		Timeout:    timeout,
		Logger:     logger,
	}
}

// Derived wraps the recommendation with routing hints for the orchestrator.
type Derived struct {
	Recommendation model.Recommendation
	RequiresReview bool
	Note           string
}

type llmRecommendation struct {
	FollowUpType      string  `json:"follow_up_type"`
	TimeframeMonths   *int    `json:"timeframe_months,omitempty"`
	Urgency           string  `json:"urgency"`
	Reasoning         string  `json:"reasoning"`
	CitationPassageID string  `json:"citation_passage_id"`
	Citation          string  `json:"citation"`
	Confidence        float64 `json:"confidence"`
}

// Derive produces the recommendation for one finding. With an empty retrieval
// it declines to fabricate a timeframe: the result has no citation, an
// urgency floor of priority, and is flagged for human follow-up. Errors are
// returned only for consistency violations; service failures degrade to a
// conservative flagged recommendation.
func (r *Reasoner) Derive(ctx context.Context, f model.Finding, rr model.RetrievalResult) (Derived, error) {
	if rr.Empty() {
		return Derived{
			Recommendation: model.Recommendation{
				FindingID:    f.FindingID,
				FollowUpType: "Radiologist review",
				Urgency:      model.UrgencyPriority,
				Confidence:   0.3,
				Reasoning:    "No guideline passage matched this finding; no timeframe derived without guideline support.",
			},
			RequiresReview: true,
			Note:           "no guideline matched",
		}, nil
	}

	reply, err := r.generate(ctx, f, rr)
	if err != nil {
		r.Logger.Warn().Err(err).Str("finding_id", f.FindingID).Msg("reasoning unavailable, using conservative fallback")
		top := rr.Passages[0].Passage
		return Derived{
			Recommendation: model.Recommendation{
				FindingID:    f.FindingID,
				FollowUpType: "Radiologist review",
				Urgency:      model.UrgencyPriority,
				Confidence:   0.3,
				Reasoning:    "Reasoning service unavailable; nearest guideline passage attached for review.",
				Citation:     &model.Citation{PassageID: top.PassageID, Source: top.Source},
			},
			RequiresReview: true,
			Note:           fmt.Sprintf("reasoning fallback: %v", err),
		}, nil
	}

	candidates, err := parseCandidates(reply)
	if err != nil || len(candidates) == 0 {
		r.Logger.Warn().Err(err).Str("finding_id", f.FindingID).Msg("unparseable reasoning reply, using conservative fallback")
		top := rr.Passages[0].Passage
		return Derived{
			Recommendation: model.Recommendation{
				FindingID:    f.FindingID,
				FollowUpType: "Radiologist review",
				Urgency:      model.UrgencyPriority,
				Confidence:   0.3,
				Reasoning:    "Reasoning reply could not be parsed; nearest guideline passage attached for review.",
				Citation:     &model.Citation{PassageID: top.PassageID, Source: top.Source},
			},
			RequiresReview: true,
			Note:           "reasoning reply unparseable",
		}, nil
	}

	// Multiple nodules rule: when more than one category could apply, the
	// highest-urgency candidate wins.
	chosen := candidates[0]
	for _, c := range candidates[1:] {
		if model.ParseUrgency(c.Urgency).Rank() > model.ParseUrgency(chosen.Urgency).Rank() {
			chosen = c
		}
	}

	rec := model.Recommendation{
		FindingID:       f.FindingID,
		FollowUpType:    strings.TrimSpace(chosen.FollowUpType),
		TimeframeMonths: chosen.TimeframeMonths,
		Urgency:         model.ParseUrgency(chosen.Urgency),
		Confidence:      chosen.Confidence,
		Reasoning:       chosen.Reasoning,
	}
	if rec.Confidence <= 0 {
		rec.Confidence = 0.6
	}

	passageID := strings.TrimSpace(chosen.CitationPassageID)
	if passageID == "" {
		passageID = matchCitationText(chosen.Citation, rr)
	}
	switch {
	case passageID == "" && rec.NoAction():
		// No-action with no citation: valid but not autonomous.
		return Derived{Recommendation: rec, RequiresReview: true, Note: "no-action without citation"}, nil
	case passageID == "":
		return Derived{Recommendation: rec, RequiresReview: true, Note: "citation missing"}, nil
	case !rr.Contains(passageID):
		return Derived{}, fmt.Errorf("%w: %s", ErrUncitedPassage, passageID)
	}

	for _, p := range rr.Passages {
		if p.Passage.PassageID == passageID {
			rec.Citation = &model.Citation{PassageID: p.Passage.PassageID, Source: p.Passage.Source}
			break
		}
	}
	return Derived{Recommendation: rec}, nil
}

func (r *Reasoner) generate(ctx context.Context, f model.Finding, rr model.RetrievalResult) (string, error) {
	findingJSON, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}

	var passages strings.Builder
	for _, p := range rr.Passages {
		fmt.Fprintf(&passages, "- passage_id: %s (source: %s, similarity: %.2f)\n  %s\n",
			p.Passage.PassageID, p.Passage.Source, p.Score, p.Passage.Text)
	}

	prompt := fmt.Sprintf(r.Prompt, string(findingJSON), passages.String())

	var response string
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, r.Timeout)
		defer cancel()
		resp, genErr := r.LLM.Generate(cctx, prompt)
		if genErr != nil {
			return genErr
		}
		response = resp
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retriesFrom(r.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return response, nil
}

func parseCandidates(reply string) ([]llmRecommendation, error) {
	if list, err := common.ParseJSONList[llmRecommendation](reply); err == nil && len(list) > 0 {
		return list, nil
	}
	single, err := common.ParseJSON[llmRecommendation](reply)
	if err != nil {
		return nil, err
	}
	return []llmRecommendation{single}, nil
}

// matchCitationText maps a free-text citation ("Fleischner 2017 ...") onto a
// retrieved passage ID when the reply used the older citation field.
func matchCitationText(citation string, rr model.RetrievalResult) string {
	c := strings.ToLower(strings.TrimSpace(citation))
	if c == "" {
		return ""
	}
	for _, p := range rr.Passages {
		if strings.EqualFold(p.Passage.PassageID, citation) {
			return p.Passage.PassageID
		}
	}
	for _, p := range rr.Passages {
		if strings.Contains(c, strings.ToLower(p.Passage.Source)) {
			return p.Passage.PassageID
		}
	}
	return ""
}

func retriesFrom(maxRetries int) uint64 {
	if maxRetries <= 1 {
		return 0
	}
	return uint64(maxRetries - 1)
}
