package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/AmulyaVeldandi/AuDRA/internal/config"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/emit"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/extraction"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/model"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/reasoning"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/retrieval"
	"github.com/AmulyaVeldandi/AuDRA/internal/core/validation"
	"github.com/AmulyaVeldandi/AuDRA/internal/corpus"
	"github.com/AmulyaVeldandi/AuDRA/internal/driver"
	"github.com/AmulyaVeldandi/AuDRA/internal/ehr"
	"github.com/AmulyaVeldandi/AuDRA/internal/llm"
)

// ErrReportTooShort rejects a report before pipeline entry. Fatal to the
// request, not the process.
var ErrReportTooShort = errors.New("report text too short")

// Pipeline sequences the stages for one report session: extract findings,
// then per finding retrieve, reason, validate and emit, auditing after every
// stage. Per-finding failures never fail the session.
type Pipeline struct {
	Store     driver.Store
	Extractor *extraction.Extractor
	Retriever *retrieval.Retriever
	Reasoner  *reasoning.Reasoner
	Validator *validation.Validator
	Emitter   *emit.Emitter
	Config    *config.Config
	Logger    zerolog.Logger

	// Seams for tests.
	UUIDGenerator func() string
	Now           func() time.Time
}

func NewPipeline(
	store driver.Store,
	llmClient llm.LLMClient,
	embedder llm.EmbedderClient,
	corpusHandle *corpus.Handle,
	ehrClient ehr.Client,
	cfg *config.Config,
	logger zerolog.Logger,
) *Pipeline {
	reasoningTimeout := time.Duration(cfg.Pipeline.ReasoningTimeoutSeconds) * time.Second
	embeddingTimeout := time.Duration(cfg.Pipeline.EmbeddingTimeoutSeconds) * time.Second
	ehrTimeout := time.Duration(cfg.Pipeline.EHRTimeoutSeconds) * time.Second

	p := &Pipeline{
		Store:         store,
		Config:        cfg,
		Logger:        logger,
		UUIDGenerator: func() string { return uuid.New().String() },
		Now:           func() time.Time { return time.Now().UTC() },
	}
	p.Extractor = extraction.NewExtractor(llmClient, cfg.Prompts.Extraction, cfg.Pipeline.MaxRetries, reasoningTimeout, logger)
	p.Retriever = retrieval.NewRetriever(embedder, corpusHandle, cfg.Corpus.TopK, embeddingTimeout, logger)
	p.Reasoner = reasoning.NewReasoner(llmClient, cfg.Prompts.Reasoning, cfg.Pipeline.MaxRetries, reasoningTimeout, logger)
	p.Validator = validation.NewValidator(store, cfg.Thresholds, logger)
	p.Emitter = &emit.Emitter{
		EHR:        ehrClient,
		Store:      store,
		MaxRetries: cfg.Pipeline.MaxRetries,
		Timeout:    ehrTimeout,
		Now:        func() time.Time { return p.Now() },
		IDs:        func() string { return p.UUIDGenerator() },
		Logger:     logger,
	}
	return p
}

// auditor appends decision-trace records for one session. The sequence
// counter fixes append order under concurrent per-finding writes.
type auditor struct {
	store     driver.Store
	sessionID string
	now       func() time.Time
	logger    zerolog.Logger

	mu  sync.Mutex
	seq int
}

func (a *auditor) record(ctx context.Context, findingID, stage, input, output string) {
	a.mu.Lock()
	a.seq++
	rec := model.AuditRecord{
		SessionID:     a.sessionID,
		Seq:           a.seq,
		FindingID:     findingID,
		Stage:         stage,
		InputSummary:  summarize(input),
		OutputSummary: summarize(output),
		Timestamp:     a.now(),
	}
	a.mu.Unlock()

	if err := a.store.AppendAudit(ctx, rec); err != nil {
		a.logger.Error().Err(err).Str("stage", stage).Msg("failed to append audit record")
	}
}

// ProcessReport runs one full session. The returned result is also persisted
// so it can be retrieved later by session ID. Only input errors produce a
// non-nil error; everything else lands in the per-finding outcomes.
func (p *Pipeline) ProcessReport(ctx context.Context, report model.Report) (*model.SessionResult, error) {
	start := time.Now()
	sessionID := p.UUIDGenerator()
	if report.ReportID == "" {
		report.ReportID = p.UUIDGenerator()
	}
	logger := p.Logger.With().Str("session_id", sessionID).Logger()
	aud := &auditor{store: p.Store, sessionID: sessionID, now: p.Now, logger: logger}

	result := &model.SessionResult{
		SessionID: sessionID,
		ReportID:  report.ReportID,
		PatientID: report.PatientID,
	}

	text := strings.TrimSpace(report.Text)
	minChars := p.Config.Pipeline.MinReportChars
	if len(text) < minChars {
		aud.record(ctx, "", model.StageRejected, text,
			fmt.Sprintf("report rejected: %d characters, minimum is %d", len(text), minChars))
		result.Status = model.SessionError
		result.Message = fmt.Sprintf("report must contain at least %d characters", minChars)
		result.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000
		_ = p.Store.SaveSessionResult(ctx, *result)
		return result, fmt.Errorf("%w: got %d characters, need %d", ErrReportTooShort, len(text), minChars)
	}

	aud.record(ctx, "", model.StageReceived, text, "session started")
	logger.Info().Str("report_id", report.ReportID).Msg("processing report")

	aud.record(ctx, "", model.StageExtracting, text, "")
	exRes := p.Extractor.Extract(ctx, text)
	findings := exRes.Findings
	for i := range findings {
		findings[i].FindingID = p.UUIDGenerator()
	}

	extractionSummary := fmt.Sprintf("%d finding(s) extracted", len(findings))
	if exRes.LLMErr != nil {
		extractionSummary += fmt.Sprintf("; reasoning service unavailable, pattern fallback used (%v)", exRes.LLMErr)
	}
	aud.record(ctx, "", model.StageExtracting, "report text", extractionSummary)

	result.Findings = findings

	if len(findings) == 0 {
		result.Status = model.SessionNoFindings
		result.Message = "no actionable findings identified"
		return p.finish(ctx, aud, result, start)
	}

	outcomes := make([]model.FindingOutcome, len(findings))
	width := p.Config.Pipeline.MaxConcurrentFindings
	if width < 1 {
		width = 1
	}
	pool, poolErr := ants.NewPool(width)
	if poolErr != nil {
		logger.Warn().Err(poolErr).Msg("worker pool unavailable, processing findings serially")
	}

	var wg sync.WaitGroup
	for i := range findings {
		i := i
		f := findings[i]
		wg.Add(1)
		run := func() {
			defer wg.Done()
			outcomes[i] = p.processFinding(ctx, aud, sessionID, report.PatientID, f)
		}
		if pool != nil {
			if err := pool.Submit(run); err != nil {
				run()
			}
		} else {
			run()
		}
	}
	wg.Wait()
	if pool != nil {
		pool.Release()
	}

	aud.record(ctx, "", model.StageAuditing, fmt.Sprintf("%d finding outcome(s)", len(outcomes)), "assembling session result")

	result.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Recommendation != nil {
			result.Recommendations = append(result.Recommendations, *o.Recommendation)
		}
		if o.Task != nil {
			result.Tasks = append(result.Tasks, *o.Task)
		}
	}
	result.Status, result.RequiresHumanReview = aggregateStatus(outcomes)
	if result.RequiresHumanReview {
		result.Message = "one or more findings require human review"
	}

	return p.finish(ctx, aud, result, start)
}

func (p *Pipeline) finish(ctx context.Context, aud *auditor, result *model.SessionResult, start time.Time) (*model.SessionResult, error) {
	result.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err := p.Store.SaveSessionResult(ctx, *result); err != nil {
		p.Logger.Error().Err(err).Str("session_id", result.SessionID).Msg("failed to persist session result")
	}
	aud.record(ctx, "", model.StageCompleted, "", fmt.Sprintf("session completed with status %s", result.Status))
	return result, nil
}

func (p *Pipeline) processFinding(ctx context.Context, aud *auditor, sessionID, patientID string, f model.Finding) model.FindingOutcome {
	out := model.FindingOutcome{Finding: f, Status: model.FindingSuccess}

	if ctx.Err() != nil {
		out.Status = model.FindingError
		out.Message = "session cancelled before retrieval"
		return out
	}

	// Retrieval. An empty result is a valid lower-confidence path.
	query := retrieval.BuildQuery(f)
	rr, rerr := p.Retriever.Retrieve(ctx, f)
	retrievalSummary := fmt.Sprintf("%d passage(s) retrieved", len(rr.Passages))
	if rerr != nil {
		retrievalSummary += fmt.Sprintf("; %v", rerr)
	}
	aud.record(ctx, f.FindingID, model.StageRetrieving, query, retrievalSummary)

	if ctx.Err() != nil {
		out.Status = model.FindingError
		out.Message = "session cancelled before reasoning"
		return out
	}

	// Reasoning.
	derived, err := p.Reasoner.Derive(ctx, f, rr)
	if err != nil {
		// Citation outside the retrieved set: internal defect, never emit an
		// uncited task.
		aud.record(ctx, f.FindingID, model.StageReasoning, query, fmt.Sprintf("consistency violation: %v", err))
		out.Status = model.FindingRequiresReview
		out.Message = "recommendation cited an unretrieved passage; routed to human review"
		return out
	}

	rec := derived.Recommendation
	rec.RecommendationID = p.UUIDGenerator()
	reasoningSummary := fmt.Sprintf("follow_up=%q urgency=%s", rec.FollowUpType, rec.Urgency)
	if rec.Citation != nil {
		reasoningSummary += fmt.Sprintf(" citation=%s", rec.Citation.PassageID)
	}
	if derived.Note != "" {
		reasoningSummary += "; " + derived.Note
	}
	aud.record(ctx, f.FindingID, model.StageReasoning, query, reasoningSummary)

	// Validation.
	vres, err := p.Validator.Validate(ctx, rec, f, patientID)
	if err != nil {
		aud.record(ctx, f.FindingID, model.StageValidating, rec.RecommendationID, fmt.Sprintf("validation error: %v", err))
		out.Status = model.FindingError
		out.Recommendation = &rec
		out.Message = fmt.Sprintf("validation failed: %v", err)
		return out
	}
	rec = vres.Recommendation
	out.Recommendation = &rec
	out.Validation = &vres.Outcome
	aud.record(ctx, f.FindingID, model.StageValidating, rec.RecommendationID,
		fmt.Sprintf("%s: %s", vres.Outcome.Status, strings.Join(vres.Outcome.Reasons, "; ")))

	if vres.Outcome.Status == model.ValidationRejected {
		out.Status = model.FindingRequiresReview
		out.Message = "recommendation rejected: " + strings.Join(vres.Outcome.Reasons, "; ")
		return out
	}

	if ctx.Err() != nil {
		out.Status = model.FindingError
		out.Message = "session cancelled before emission"
		return out
	}

	// Emission.
	eres, err := p.Emitter.Emit(ctx, rec, f, sessionID, patientID)
	if err != nil {
		aud.record(ctx, f.FindingID, model.StageEmitting, rec.RecommendationID, fmt.Sprintf("emission error: %v", err))
		out.Status = model.FindingError
		out.Message = fmt.Sprintf("task emission failed: %v", err)
		return out
	}
	out.Task = eres.Task

	emitSummary := eres.Note
	if eres.Task != nil {
		emitSummary = fmt.Sprintf("task %s (%s) scheduled %s", eres.Task.TaskID, eres.Task.Status, eres.Task.ScheduledDate.Format("2006-01-02"))
		if eres.Note != "" {
			emitSummary += "; " + eres.Note
		}
	}
	aud.record(ctx, f.FindingID, model.StageEmitting, rec.RecommendationID, emitSummary)

	// Newer recommendation supersedes prior open tasks in the lineage.
	if eres.Task != nil {
		for _, prior := range vres.PriorTasks {
			if err := p.Store.MarkTaskSuperseded(ctx, prior.TaskID, eres.Task.TaskID); err != nil {
				p.Logger.Error().Err(err).Str("task_id", prior.TaskID).Msg("failed to mark task superseded")
				continue
			}
			aud.record(ctx, f.FindingID, model.StageEmitting, prior.TaskID,
				fmt.Sprintf("prior task superseded by %s", eres.Task.TaskID))
		}
	}

	if eres.Pending || derived.RequiresReview || vres.Outcome.RequiresReview {
		out.Status = model.FindingRequiresReview
	}
	if out.Message == "" {
		switch {
		case eres.Pending:
			out.Message = eres.Note
		case derived.RequiresReview:
			out.Message = derived.Note
		case eres.Task == nil:
			out.Message = eres.Note
		}
	}
	return out
}

// Session returns the persisted result and the full audit trail for one
// session ID. Read-only and idempotent.
func (p *Pipeline) Session(ctx context.Context, sessionID string) (*model.SessionResult, []model.AuditRecord, error) {
	result, err := p.Store.SessionResult(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	trail, err := p.Store.AuditTrail(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return result, trail, nil
}

func aggregateStatus(outcomes []model.FindingOutcome) (model.SessionStatus, bool) {
	review := false
	for _, o := range outcomes {
		if o.Status == model.FindingRequiresReview || o.Status == model.FindingError {
			review = true
		}
	}
	if review {
		return model.SessionRequiresReview, true
	}
	return model.SessionSuccess, false
}

func summarize(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
