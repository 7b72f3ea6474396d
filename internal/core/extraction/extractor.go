package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/common"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/llm"
)

// Extractor turns raw report text into structured findings. The regex layer
// runs first and is authoritative for type, size and location; the reasoning
// service only enriches (extra characteristics, findings the patterns
// missed). If the service is unavailable the pattern output stands alone.
type Extractor struct {
	LLM        llm.LLMClient
	Prompt     string
	MaxRetries int
	Timeout    time.Duration
	Logger     zerolog.Logger
}

func NewExtractor(llmClient llm.LLMClient, prompt string, maxRetries int, timeout time.Duration, logger zerolog.Logger) *Extractor {
	return &Extractor{
		LLM:        llmClient,
		Prompt:     prompt,
		MaxRetries: maxRetries,
		Timeout:    timeout,
		Logger:     logger,
	}
}

// Result carries the extracted findings plus how they were obtained, so the
// orchestrator can audit a fallback.
type Result struct {
	Findings []model.Finding
	LLMUsed  bool
	LLMErr   error
}

type llmFinding struct {
	Type            string   `json:"type"`
	SizeMM          *float64 `json:"size_mm,omitempty"`
	Location        string   `json:"location"`
	Characteristics []string `json:"characteristics"`
	Confidence      float64  `json:"confidence"`
}

// Extract never fails outright: the deterministic layer always produces a
// (possibly empty) finding list, and zero findings is a valid outcome.
func (e *Extractor) Extract(ctx context.Context, reportText string) Result {
	findings := matchFindings(reportText)

	if e.LLM == nil {
		return Result{Findings: findings}
	}

	enriched, err := e.enrich(ctx, reportText)
	if err != nil {
		e.Logger.Warn().Err(err).Msg("extraction enrichment unavailable, using pattern findings only")
		return Result{Findings: findings, LLMErr: err}
	}

	return Result{Findings: mergeFindings(findings, enriched), LLMUsed: true}
}

func (e *Extractor) enrich(ctx context.Context, reportText string) ([]llmFinding, error) {
	prompt := fmt.Sprintf(e.Prompt, reportText)

	var response string
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, e.Timeout)
		defer cancel()
		resp, err := e.LLM.Generate(cctx, prompt)
		if err != nil {
			return err
		}
		response = resp
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retriesFrom(e.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("failed to generate findings: %w", err)
	}

	parsed, err := parseLLMFindings(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extracted findings: %w", err)
	}
	return parsed, nil
}

type llmFindings struct {
	Findings []llmFinding `json:"findings"`
}

func parseLLMFindings(response string) ([]llmFinding, error) {
	trimmed := strings.TrimSpace(response)
	// Tolerate both a bare array and an object-wrapped array.
	if list, err := common.ParseJSONList[llmFinding](trimmed); err == nil {
		return list, nil
	}
	wrapped, err := common.ParseJSON[llmFindings](trimmed)
	if err != nil {
		return nil, err
	}
	return wrapped.Findings, nil
}

// mergeFindings folds LLM output into the pattern findings. A match on type
// and location merges characteristics and may fill a missing location or
// raise confidence; pattern-derived type, size and location are never
// overwritten. Unmatched LLM findings are appended.
func mergeFindings(patterns []model.Finding, extra []llmFinding) []model.Finding {
	out := make([]model.Finding, len(patterns))
	copy(out, patterns)

	for _, lf := range extra {
		ft := parseFindingType(lf.Type)
		matched := false
		for i := range out {
			if out[i].Type != ft || !sameLocation(out[i].Location, lf.Location) {
				continue
			}
			for _, c := range lf.Characteristics {
				out[i].Characteristics = appendUnique(out[i].Characteristics, c)
			}
			if out[i].Location == "" && lf.Location != "" {
				out[i].Location = strings.ToLower(strings.TrimSpace(lf.Location))
			}
			if lf.Confidence > out[i].Confidence {
				out[i].Confidence = clampConfidence(lf.Confidence)
			}
			matched = true
			break
		}
		if matched {
			continue
		}

		conf := lf.Confidence
		if conf == 0 {
			conf = 0.5
		}
		out = append(out, model.Finding{
			Type:            ft,
			SizeMM:          lf.SizeMM,
			Location:        strings.ToLower(strings.TrimSpace(lf.Location)),
			Characteristics: lf.Characteristics,
			Confidence:      clampConfidence(conf),
		})
	}
	return out
}

// sameLocation treats an empty pattern location as mergeable and otherwise
// accepts containment either way ("left lower lobe" vs "lll, left lower lobe").
func sameLocation(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return true
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func parseFindingType(s string) model.FindingType {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch model.FindingType(norm) {
	case model.FindingSolidNodule, model.FindingGroundGlassNodule, model.FindingPartSolidNodule,
		model.FindingConsolidation, model.FindingLiverLesion, model.FindingOther:
		return model.FindingType(norm)
	}
	switch {
	case strings.Contains(norm, "ground"):
		return model.FindingGroundGlassNodule
	case strings.Contains(norm, "part"):
		return model.FindingPartSolidNodule
	case strings.Contains(norm, "liver") || strings.Contains(norm, "hepatic"):
		return model.FindingLiverLesion
	case strings.Contains(norm, "consolidation"):
		return model.FindingConsolidation
	case strings.Contains(norm, "nodule") || strings.Contains(norm, "solid"):
		return model.FindingSolidNodule
	}
	return model.FindingOther
}

func retriesFrom(maxRetries int) uint64 {
	if maxRetries <= 1 {
		return 0
	}
	return uint64(maxRetries - 1)
}
