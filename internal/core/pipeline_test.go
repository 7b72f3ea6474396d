package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AmulyaVeldandi/AuDRA/internal/config"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/corpus"
	"github.com/AmulyaVeldandi/AuDRA/internal/driver"
	"github.com/AmulyaVeldandi/AuDRA/internal/ehr"
	"github.com/AmulyaVeldandi/AuDRA/internal/llm"
)

const noduleReport = "There is an 8 mm solid nodule in the left lower lobe. No other abnormality."

const validReasoningReply = `{
	"follow_up_type": "CT Chest without contrast",
	"timeframe_months": 6,
	"urgency": "routine",
	"reasoning": "Solid nodule 6-8mm warrants CT follow-up in 6-12 months.",
	"citation_passage_id": "fleischner-2017-solid-6-8",
	"confidence": 0.85
}`

func testCorpus() *corpus.Corpus {
	return corpus.New([]model.GuidelinePassage{
		{
			PassageID:   "fleischner-2017-solid-6-8",
			Source:      "Fleischner 2017",
			VersionYear: 2017,
			Text:        "Solid pulmonary nodule 6-8 mm: CT follow-up at 6-12 months.",
			Embedding:   []float32{1, 0},
		},
	})
}

func newTestPipeline(llmClient llm.LLMClient, embedder llm.EmbedderClient, store driver.Store) *Pipeline {
	cfg := config.Default()
	cfg.Pipeline.MaxRetries = 1
	cfg.Pipeline.MaxConcurrentFindings = 1

	p := NewPipeline(store, llmClient, embedder, corpus.NewHandle(testCorpus()), ehr.NewLocalClient(), cfg, zerolog.Nop())

	counter := 0
	p.UUIDGenerator = func() string {
		counter++
		return fmt.Sprintf("uuid-%d", counter)
	}
	p.Now = func() time.Time { return time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC) }
	return p
}

func stages(trail []model.AuditRecord) []string {
	out := make([]string, len(trail))
	for i, rec := range trail {
		out[i] = rec.Stage
	}
	return out
}

func TestProcessReport_HappyPath(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{ExtractionReply: "[]", ReasoningReply: validReasoningReply}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: noduleReport})
	require.NoError(t, err)

	assert.Equal(t, "uuid-1", result.SessionID)
	assert.Equal(t, model.SessionSuccess, result.Status)
	assert.False(t, result.RequiresHumanReview)

	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	assert.Equal(t, "uuid-2", f.FindingID)
	assert.Equal(t, model.FindingSolidNodule, f.Type)
	require.NotNil(t, f.SizeMM)
	assert.Equal(t, 8.0, *f.SizeMM)
	assert.Equal(t, "left lower lobe", f.Location)

	require.Len(t, result.Recommendations, 1)
	rec := result.Recommendations[0]
	assert.Equal(t, "uuid-3", rec.RecommendationID)
	assert.Equal(t, "uuid-2", rec.FindingID)
	require.NotNil(t, rec.Citation)
	assert.Equal(t, "fleischner-2017-solid-6-8", rec.Citation.PassageID)

	require.Len(t, result.Tasks, 1)
	task := result.Tasks[0]
	assert.Equal(t, "uuid-4", task.TaskID)
	assert.Equal(t, model.TaskSubmitted, task.Status)
	assert.NotEmpty(t, task.OrderID)
	assert.Equal(t, "p-1|solid_nodule|left lower lobe", task.LineageKey)
	assert.Equal(t, time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), task.ScheduledDate)

	trail, err := store.AuditTrail(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		model.StageReceived,
		model.StageExtracting,
		model.StageExtracting,
		model.StageRetrieving,
		model.StageReasoning,
		model.StageValidating,
		model.StageEmitting,
		model.StageAuditing,
		model.StageCompleted,
	}, stages(trail))
	for i, rec := range trail {
		assert.Equal(t, i+1, rec.Seq)
	}
}

func TestProcessReport_TooShortIsInputError(t *testing.T) {
	store := driver.NewMemoryStore()
	p := newTestPipeline(&mockLLM{}, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", Text: "Normal."})
	assert.ErrorIs(t, err, ErrReportTooShort)
	assert.Equal(t, model.SessionError, result.Status)

	// rejection is still audited and the session retrievable
	trail, trailErr := store.AuditTrail(context.Background(), result.SessionID)
	require.NoError(t, trailErr)
	require.Len(t, trail, 1)
	assert.Equal(t, model.StageRejected, trail[0].Stage)

	saved, savedErr := store.SessionResult(context.Background(), result.SessionID)
	require.NoError(t, savedErr)
	assert.Equal(t, model.SessionError, saved.Status)
}

func TestProcessReport_NoFindings(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{ExtractionReply: "[]"}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{
		ReportID: "r-1",
		Text:     "Normal chest radiograph. The lungs are clear. No acute abnormality identified.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionNoFindings, result.Status)
	assert.Empty(t, result.Findings)
	assert.Empty(t, result.Tasks)
}

func TestProcessReport_LLMDownDegradesToReview(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{Err: fmt.Errorf("connection refused")}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: noduleReport})
	require.NoError(t, err)

	// pattern extraction still found the nodule; the conservative reasoning
	// fallback produced a flagged review recommendation with no task
	assert.Equal(t, model.SessionRequiresReview, result.Status)
	assert.True(t, result.RequiresHumanReview)
	require.Len(t, result.Findings, 1)
	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, "Radiologist review", result.Recommendations[0].FollowUpType)
	assert.Empty(t, result.Tasks)
}

func TestProcessReport_EmptyRetrievalRoutesToReview(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{ExtractionReply: "[]", ReasoningReply: validReasoningReply}
	p := newTestPipeline(mock, nil, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: noduleReport})
	require.NoError(t, err)

	assert.Equal(t, model.SessionRequiresReview, result.Status)
	require.Len(t, result.Recommendations, 1)
	assert.Nil(t, result.Recommendations[0].Citation)
	assert.Nil(t, result.Recommendations[0].TimeframeMonths)
	assert.Empty(t, result.Tasks)
}

func TestProcessReport_UncitedPassageRoutesToReview(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{
		ExtractionReply: "[]",
		ReasoningReply: `{
			"follow_up_type": "CT Chest",
			"timeframe_months": 6,
			"urgency": "routine",
			"reasoning": "x",
			"citation_passage_id": "made-up-passage"
		}`,
	}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: noduleReport})
	require.NoError(t, err)

	assert.Equal(t, model.SessionRequiresReview, result.Status)
	require.Len(t, result.Outcomes, 1)
	assert.Equal(t, model.FindingRequiresReview, result.Outcomes[0].Status)
	assert.Empty(t, result.Tasks)
}

func TestProcessReport_SupersedesPriorOpenTask(t *testing.T) {
	store := driver.NewMemoryStore()
	prior := model.Task{
		TaskID:     "t-old",
		LineageKey: "p-1|solid_nodule|left lower lobe",
		Status:     model.TaskSubmitted,
	}
	require.NoError(t, store.SaveTask(context.Background(), prior))

	mock := &mockLLM{ExtractionReply: "[]", ReasoningReply: validReasoningReply}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: noduleReport})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)

	open, err := store.OpenTasks(context.Background(), prior.LineageKey)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, result.Tasks[0].TaskID, open[0].TaskID)
}

func TestProcessReport_StatCorrectionEscalates(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{
		ExtractionReply: "[]",
		ReasoningReply: `{
			"follow_up_type": "CT Chest without contrast",
			"timeframe_months": 6,
			"urgency": "stat",
			"reasoning": "x",
			"citation_passage_id": "fleischner-2017-solid-6-8",
			"confidence": 0.8
		}`,
	}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: noduleReport})
	require.NoError(t, err)

	// contradiction was corrected, task emitted, but flagged for review
	assert.Equal(t, model.SessionRequiresReview, result.Status)
	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, model.UrgencyUrgent, result.Recommendations[0].Urgency)
	require.Len(t, result.Tasks, 1)
}

func TestProcessReport_LargerNoduleNeverLowerUrgency(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{ExtractionReply: "[]", ReasoningReply: validReasoningReply}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	report := "1. There is a 4 mm solid nodule in the left upper lobe.\n" +
		"2. There is a 12 mm solid nodule in the right lower lobe."
	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: report})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	var small, large *model.Recommendation
	for i := range result.Outcomes {
		o := result.Outcomes[i]
		require.NotNil(t, o.Recommendation)
		switch *o.Finding.SizeMM {
		case 4.0:
			small = o.Recommendation
		case 12.0:
			large = o.Recommendation
		}
	}
	require.NotNil(t, small)
	require.NotNil(t, large)

	// the 12mm nodule crosses the high-risk bound and is escalated off routine
	assert.Equal(t, model.UrgencyRoutine, small.Urgency)
	assert.Equal(t, model.UrgencyPriority, large.Urgency)
	assert.GreaterOrEqual(t, large.Urgency.Rank(), small.Urgency.Rank())
}

func TestSession_RoundTrip(t *testing.T) {
	store := driver.NewMemoryStore()
	mock := &mockLLM{ExtractionReply: "[]", ReasoningReply: validReasoningReply}
	p := newTestPipeline(mock, &mockEmbedder{Vector: []float32{1, 0}}, store)

	result, err := p.ProcessReport(context.Background(), model.Report{ReportID: "r-1", PatientID: "p-1", Text: noduleReport})
	require.NoError(t, err)

	saved, firstTrail, err := p.Session(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, saved.SessionID)
	assert.Equal(t, result.Status, saved.Status)

	_, secondTrail, err := p.Session(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, firstTrail, secondTrail)
}

func TestSession_UnknownID(t *testing.T) {
	p := newTestPipeline(&mockLLM{}, nil, driver.NewMemoryStore())
	_, _, err := p.Session(context.Background(), "missing")
	assert.ErrorIs(t, err, driver.ErrSessionNotFound)
}
