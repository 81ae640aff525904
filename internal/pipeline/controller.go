// internal/pipeline/controller.go
package pipeline

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/navidpourhadi/Crypto-RAG/internal/common/errors"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/logger"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/metrics"
	"github.com/navidpourhadi/Crypto-RAG/internal/common/observability"
	"github.com/navidpourhadi/Crypto-RAG/internal/evidence"
	"github.com/navidpourhadi/Crypto-RAG/internal/models"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/embedding"
	"github.com/navidpourhadi/Crypto-RAG/internal/providers/genai"
	composeanswer "github.com/navidpourhadi/Crypto-RAG/internal/stages/compose-answer"
	extractintent "github.com/navidpourhadi/Crypto-RAG/internal/stages/extract-intent"
	retrieveevidence "github.com/navidpourhadi/Crypto-RAG/internal/stages/retrieve-evidence"
	"github.com/navidpourhadi/Crypto-RAG/internal/status"
)

// FailureApology is the terminal text for turns the pipeline could not
// finish. It is distinct from the no-evidence fallback: a fallback is a
// successful turn with nothing to cite, a failure is a broken one.
const FailureApology = "Sorry, something went wrong while answering your question. Please try again in a moment."

type IntentExtractor interface {
	Execute(ctx context.Context, query models.Query) models.ExtractedIntent
}

type EvidenceRetriever interface {
	Execute(ctx context.Context, query models.Query, intent models.ExtractedIntent) (*retrieveevidence.Output, error)
}

type DigestSynthesizer interface {
	Execute(ctx context.Context, query models.Query, set models.EvidenceSet) (models.SynthesisDigest, error)
}

type ImpactAssessor interface {
	Execute(ctx context.Context, intent models.ExtractedIntent, digest models.SynthesisDigest) (models.ImpactAssessment, error)
}

type AnswerComposer interface {
	ComposeGrounded(ctx context.Context, query models.Query, digest models.SynthesisDigest, assessment models.ImpactAssessment) (models.Answer, error)
	ComposeFallback(query models.Query, intent models.ExtractedIntent) models.Answer
	ComposeDirect(ctx context.Context, query models.Query) (models.Answer, error)
}

// StatusSink records where the most recent turn ended up. May be nil.
type StatusSink interface {
	Record(ctx context.Context, st status.TurnStatus) error
}

type Config struct {
	TurnTimeout time.Duration
}

// Controller drives a turn through the stages in order, one stage at a
// time. Stages never run concurrently within a turn.
type Controller struct {
	config      *Config
	extractor   IntentExtractor
	retriever   EvidenceRetriever
	synthesizer DigestSynthesizer
	assessor    ImpactAssessor
	composer    AnswerComposer
	statusSink  StatusSink
	obs         *observability.Observability
	logger      logger.Logger
}

func NewController(
	config *Config,
	extractor IntentExtractor,
	retriever EvidenceRetriever,
	synthesizer DigestSynthesizer,
	assessor ImpactAssessor,
	composer AnswerComposer,
	statusSink StatusSink,
	obs *observability.Observability,
	log logger.Logger,
) *Controller {
	return &Controller{
		config:      config,
		extractor:   extractor,
		retriever:   retriever,
		synthesizer: synthesizer,
		assessor:    assessor,
		composer:    composer,
		statusSink:  statusSink,
		obs:         obs,
		logger:      log.With(map[string]interface{}{"component": "pipeline"}),
	}
}

// Run executes one full turn and always returns an answer: a grounded one,
// the no-evidence fallback, a direct reply, or the failure apology.
func (c *Controller) Run(ctx context.Context, query models.Query) *TurnState {
	if c.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.TurnTimeout)
		defer cancel()
	}

	turn := &TurnState{
		State: StateReceived,
		Query: query,
	}

	log := c.logger.With(map[string]interface{}{
		"conversation_id": query.ConversationID.String(),
		"turn_index":      query.TurnIndex,
	})
	log.Info("turn started", map[string]interface{}{
		"query_length": len(query.Text),
	})

	c.execute(ctx, turn, log)

	metrics.PipelineTurnsTotal.WithLabelValues(string(turn.State)).Inc()
	if c.obs != nil {
		c.obs.RecordTurn(ctx, string(turn.State))
	}
	c.recordStatus(turn)

	log.Info("turn finished", map[string]interface{}{
		"state":       string(turn.State),
		"grounded":    turn.Answer.Grounded,
		"evidence":    len(turn.Evidence.Candidates),
		"no_evidence": turn.NoEvidence,
	})
	return turn
}

func (c *Controller) execute(ctx context.Context, turn *TurnState, log logger.Logger) {
	// Intent extraction degrades internally and never fails a turn.
	intent, ok := c.runIntent(ctx, turn, log)
	if !ok {
		return
	}

	if !extractintent.NeedsEvidence(intent, turn.Query.Text) {
		c.runDirect(ctx, turn, log)
		return
	}

	if !c.runRetrieval(ctx, turn, log) {
		return
	}

	if turn.NoEvidence {
		log.Info("no usable evidence, composing fallback", map[string]interface{}{
			"code": string(errors.ErrCodeNoEvidence),
		})
		turn.Answer = c.composer.ComposeFallback(turn.Query, turn.Intent)
		turn.advance(StateComposed)
		turn.advance(StateDone)
		return
	}

	if !c.runSynthesis(ctx, turn, log) {
		return
	}

	if turn.Digest.InsufficientEvidence {
		// Retrieval found candidates but none yielded a citable fact.
		turn.Answer = c.composer.ComposeFallback(turn.Query, turn.Intent)
		turn.advance(StateComposed)
		turn.advance(StateDone)
		return
	}

	if !c.runAssessment(ctx, turn, log) {
		return
	}

	c.runCompose(ctx, turn, log)
}

func (c *Controller) runIntent(ctx context.Context, turn *TurnState, log logger.Logger) (models.ExtractedIntent, bool) {
	if c.cancelled(ctx, turn, extractintent.StageName) {
		return models.ExtractedIntent{}, false
	}
	spanCtx, span := c.startSpan(ctx, extractintent.StageName)
	start := time.Now()
	intent := c.extractor.Execute(spanCtx, turn.Query)
	c.endStage(spanCtx, extractintent.StageName, start, span)

	if intent.Degraded {
		// Degraded extraction continues the turn but shows up in the
		// failure counters for alerting.
		metrics.StageFailures.WithLabelValues(extractintent.StageName, string(errors.ErrCodeExtractionDegraded)).Inc()
	}

	turn.Intent = intent
	turn.advance(StateIntentExtracted)
	log.Info("intent extracted", map[string]interface{}{
		"category": string(intent.Category),
		"entities": len(intent.Entities),
		"degraded": intent.Degraded,
	})
	return intent, true
}

func (c *Controller) runDirect(ctx context.Context, turn *TurnState, log logger.Logger) {
	spanCtx, span := c.startSpan(ctx, "compose-direct")
	start := time.Now()
	answer, err := c.composer.ComposeDirect(spanCtx, turn.Query)
	c.endStage(spanCtx, "compose-direct", start, span)
	if err != nil {
		c.fail(turn, "compose-direct", err, log)
		return
	}
	turn.Answer = answer
	turn.advance(StateComposed)
	turn.advance(StateDone)
	log.Info("answered directly without retrieval", nil)
}

func (c *Controller) runRetrieval(ctx context.Context, turn *TurnState, log logger.Logger) bool {
	if c.cancelled(ctx, turn, retrieveevidence.StageName) {
		return false
	}
	spanCtx, span := c.startSpan(ctx, retrieveevidence.StageName)
	start := time.Now()
	out, err := c.retriever.Execute(spanCtx, turn.Query, turn.Intent)
	c.endStage(spanCtx, retrieveevidence.StageName, start, span)
	if err != nil {
		c.fail(turn, retrieveevidence.StageName, err, log)
		return false
	}

	turn.Evidence = out.Evidence
	turn.NoEvidence = out.NoEvidence
	turn.Rewrites = out.RewriteAttempts
	turn.advance(StateRetrieved)
	return true
}

func (c *Controller) runSynthesis(ctx context.Context, turn *TurnState, log logger.Logger) bool {
	if c.cancelled(ctx, turn, "synthesize-digest") {
		return false
	}
	spanCtx, span := c.startSpan(ctx, "synthesize-digest")
	start := time.Now()
	digest, err := c.synthesizer.Execute(spanCtx, turn.Query, turn.Evidence)
	c.endStage(spanCtx, "synthesize-digest", start, span)
	if err != nil {
		c.fail(turn, "synthesize-digest", err, log)
		return false
	}
	turn.Digest = digest
	turn.advance(StateSynthesized)
	return true
}

func (c *Controller) runAssessment(ctx context.Context, turn *TurnState, log logger.Logger) bool {
	if c.cancelled(ctx, turn, "assess-impact") {
		return false
	}
	spanCtx, span := c.startSpan(ctx, "assess-impact")
	start := time.Now()
	assessment, err := c.assessor.Execute(spanCtx, turn.Intent, turn.Digest)
	c.endStage(spanCtx, "assess-impact", start, span)
	if err != nil {
		c.fail(turn, "assess-impact", err, log)
		return false
	}
	turn.Assessment = assessment
	turn.advance(StateAssessed)
	return true
}

func (c *Controller) runCompose(ctx context.Context, turn *TurnState, log logger.Logger) {
	if c.cancelled(ctx, turn, "compose-answer") {
		return
	}
	spanCtx, span := c.startSpan(ctx, "compose-answer")
	start := time.Now()
	answer, err := c.composer.ComposeGrounded(spanCtx, turn.Query, turn.Digest, turn.Assessment)
	c.endStage(spanCtx, "compose-answer", start, span)
	if err != nil {
		c.fail(turn, "compose-answer", err, log)
		return
	}
	turn.Answer = answer
	turn.advance(StateComposed)
	turn.advance(StateDone)
}

// fail moves the turn to the terminal failure state with the generic
// apology. Partial stage outputs are never surfaced to the user.
func (c *Controller) fail(turn *TurnState, stage string, err error, log logger.Logger) {
	code := failureCode(err)
	metrics.StageFailures.WithLabelValues(stage, code).Inc()
	log.WithError(err).Error("stage failed, turn abandoned", map[string]interface{}{
		"stage":      stage,
		"error_code": code,
	})

	turn.FailureCode = code
	turn.Answer = models.Answer{
		Text:           FailureApology,
		Grounded:       false,
		ConversationID: turn.Query.ConversationID,
		TurnIndex:      turn.Query.TurnIndex,
		GeneratedAt:    time.Now().UTC(),
	}
	turn.advance(StateFailed)
}

// failureCode maps a stage error onto the taxonomy. Specific sentinels win
// over the StandardError code because they name the failing dependency, not
// just the failure class.
func failureCode(err error) string {
	switch {
	case stderrors.Is(err, evidence.ErrStoreUnavailable):
		return string(errors.ErrCodeStoreUnavailable)
	case stderrors.Is(err, evidence.ErrStoreTimeout):
		return string(errors.ErrCodeStoreTimeout)
	case stderrors.Is(err, genai.ErrLLMTimeout):
		return string(errors.ErrCodeLLMTimeout)
	case stderrors.Is(err, embedding.ErrProvider), stderrors.Is(err, embedding.ErrTimeout):
		return string(errors.ErrCodeEmbeddingFailed)
	case stderrors.Is(err, composeanswer.ErrComposeFailed):
		return string(errors.ErrCodeComposeFailed)
	}
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return string(errors.ErrCodeLLMTimeout)
	}
	return string(errors.ErrCodeProviderFatal)
}

func (c *Controller) cancelled(ctx context.Context, turn *TurnState, stage string) bool {
	if ctx.Err() == nil {
		return false
	}
	c.fail(turn, stage, ctx.Err(), c.logger)
	return true
}

func (c *Controller) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if c.obs == nil {
		return ctx, func() {}
	}
	spanCtx, span := c.obs.StartSpan(ctx, name)
	return spanCtx, func() { span.End() }
}

func (c *Controller) endStage(ctx context.Context, stage string, start time.Time, endSpan func()) {
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if c.obs != nil {
		c.obs.RecordStageDuration(ctx, stage, elapsed)
	}
	endSpan()
}

func (c *Controller) recordStatus(turn *TurnState) {
	if c.statusSink == nil {
		return
	}
	// Status writes use a fresh context so a turn timeout does not lose
	// the record of that timeout.
	recordCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := status.TurnStatus{
		ConversationID: turn.Query.ConversationID.String(),
		TurnIndex:      turn.Query.TurnIndex,
		State:          string(turn.State),
		EvidenceCount:  len(turn.Evidence.Candidates),
		UsedFallback:   turn.NoEvidence || (turn.State == StateDone && !turn.Answer.Grounded && turn.Digest.InsufficientEvidence),
		RecordedAt:     time.Now().UTC(),
	}
	if err := c.statusSink.Record(recordCtx, st); err != nil {
		c.logger.WithError(err).Warn("status record failed", nil)
	}
}
