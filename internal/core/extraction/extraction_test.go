package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
)

type mockLLM struct {
	Response string
	Err      error
	Calls    int
}

func (m *mockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

func TestMatchFindings_SolidNodule(t *testing.T) {
	text := "FINDINGS:\nThere is an 8 mm solid nodule in the left lower lobe.\nNo pleural effusion."

	findings := matchFindings(text)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, model.FindingSolidNodule, f.Type)
	require.NotNil(t, f.SizeMM)
	assert.Equal(t, 8.0, *f.SizeMM)
	assert.Equal(t, "left lower lobe", f.Location)
	// base 0.65 + size + location + type word
	assert.InDelta(t, 0.95, f.Confidence, 0.001)
	assert.Contains(t, f.SourceText, "solid nodule")
}

func TestMatchFindings_CentimeterConversion(t *testing.T) {
	findings := matchFindings("A 1.2 cm nodule is seen in the right upper lobe.")
	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].SizeMM)
	assert.Equal(t, 12.0, *findings[0].SizeMM)
}

func TestMatchFindings_CompositeSizeUsesLargestAxis(t *testing.T) {
	findings := matchFindings("Spiculated nodule measuring 9 x 14 mm in the right lower lobe.")
	require.Len(t, findings, 1)
	require.NotNil(t, findings[0].SizeMM)
	assert.Equal(t, 14.0, *findings[0].SizeMM)
	assert.Contains(t, findings[0].Characteristics, "spiculated")
}

func TestMatchFindings_GroundGlassDeduped(t *testing.T) {
	// "ground-glass nodule" triggers both the nodule and the GGO matcher on
	// the same line; they must collapse to a single finding.
	findings := matchFindings("There is a 5 mm ground-glass nodule in the right upper lobe.")
	require.Len(t, findings, 1)
	assert.Equal(t, model.FindingGroundGlassNodule, findings[0].Type)
}

func TestMatchFindings_LobeAbbreviation(t *testing.T) {
	findings := matchFindings("Solitary 6 mm nodule in the RUL.")
	require.Len(t, findings, 1)
	assert.Equal(t, "right upper lobe", findings[0].Location)
	assert.Contains(t, findings[0].Characteristics, "solitary")
}

func TestMatchFindings_LiverLesionLIRADS(t *testing.T) {
	findings := matchFindings("Hepatic observation: 18 mm lesion, LI-RADS 4.")
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, model.FindingLiverLesion, f.Type)
	assert.Equal(t, "liver", f.Location)
	require.NotNil(t, f.SizeMM)
	assert.Equal(t, 18.0, *f.SizeMM)
	assert.Contains(t, f.Characteristics, "li-rads:LR-4")
	assert.InDelta(t, 0.8, f.Confidence, 0.001)
}

func TestMatchFindings_MultipleLinesInOrder(t *testing.T) {
	text := "1. 4 mm nodule in the left upper lobe.\n" +
		"2. Consolidation in the right lower lobe.\n" +
		"3. 12 mm spiculated nodule in the right upper lobe."

	findings := matchFindings(text)
	require.Len(t, findings, 3)
	assert.Equal(t, model.FindingSolidNodule, findings[0].Type)
	assert.Equal(t, model.FindingConsolidation, findings[1].Type)
	assert.Equal(t, model.FindingSolidNodule, findings[2].Type)
	assert.Contains(t, findings[2].Characteristics, "spiculated")
}

func TestMatchFindings_Deterministic(t *testing.T) {
	text := "New 7 mm part-solid nodule in the lingula. Ground-glass opacities bilaterally."
	first := matchFindings(text)
	second := matchFindings(text)
	assert.Equal(t, first, second)
}

func TestMatchFindings_NoFindings(t *testing.T) {
	findings := matchFindings("Normal chest radiograph. The lungs are clear. No acute abnormality.")
	assert.Empty(t, findings)
}

func TestExtract_NoLLMUsesPatternsOnly(t *testing.T) {
	e := NewExtractor(nil, "%s", 3, time.Second, zerolog.Nop())

	res := e.Extract(context.Background(), "There is an 8 mm solid nodule in the left lower lobe.")
	assert.False(t, res.LLMUsed)
	assert.NoError(t, res.LLMErr)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, model.FindingSolidNodule, res.Findings[0].Type)
}

func TestExtract_LLMEnrichesMatchingFinding(t *testing.T) {
	llm := &mockLLM{Response: `[
		{"type": "solid_nodule", "size_mm": 8, "location": "left lower lobe", "characteristics": ["new"], "confidence": 0.9}
	]`}
	e := NewExtractor(llm, "%s", 1, time.Second, zerolog.Nop())

	res := e.Extract(context.Background(), "There is an 8 mm solid nodule in the left lower lobe.")
	assert.True(t, res.LLMUsed)
	require.Len(t, res.Findings, 1)

	f := res.Findings[0]
	// Pattern fields stand; the enrichment only adds characteristics.
	require.NotNil(t, f.SizeMM)
	assert.Equal(t, 8.0, *f.SizeMM)
	assert.Equal(t, "left lower lobe", f.Location)
	assert.Contains(t, f.Characteristics, "new")
}

func TestExtract_LLMAddsUnmatchedFinding(t *testing.T) {
	llm := &mockLLM{Response: `[
		{"type": "liver_lesion", "size_mm": 15, "location": "hepatic segment 7", "characteristics": [], "confidence": 0.7}
	]`}
	e := NewExtractor(llm, "%s", 1, time.Second, zerolog.Nop())

	res := e.Extract(context.Background(), "There is an 8 mm solid nodule in the left lower lobe.")
	require.Len(t, res.Findings, 2)
	assert.Equal(t, model.FindingLiverLesion, res.Findings[1].Type)
	assert.Equal(t, "hepatic segment 7", res.Findings[1].Location)
}

func TestExtract_LLMFailureFallsBackToPatterns(t *testing.T) {
	llm := &mockLLM{Err: errors.New("connection refused")}
	e := NewExtractor(llm, "%s", 2, time.Millisecond, zerolog.Nop())

	res := e.Extract(context.Background(), "There is an 8 mm solid nodule in the left lower lobe.")
	assert.False(t, res.LLMUsed)
	assert.Error(t, res.LLMErr)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, 2, llm.Calls)
}

func TestExtract_UnparseableReplyFallsBackToPatterns(t *testing.T) {
	llm := &mockLLM{Response: "I could not find any structured findings, sorry!"}
	e := NewExtractor(llm, "%s", 1, time.Second, zerolog.Nop())

	res := e.Extract(context.Background(), "There is an 8 mm solid nodule in the left lower lobe.")
	assert.False(t, res.LLMUsed)
	assert.Error(t, res.LLMErr)
	require.Len(t, res.Findings, 1)
}

func TestParseFindingType(t *testing.T) {
	assert.Equal(t, model.FindingSolidNodule, parseFindingType("solid_nodule"))
	assert.Equal(t, model.FindingGroundGlassNodule, parseFindingType("Ground Glass Nodule"))
	assert.Equal(t, model.FindingPartSolidNodule, parseFindingType("part-solid nodule"))
	assert.Equal(t, model.FindingLiverLesion, parseFindingType("hepatic lesion"))
	assert.Equal(t, model.FindingOther, parseFindingType("pleural effusion"))
}
