package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/tasks"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("memoryd.orchestrator")

// Retriever ranks memories for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query, scope string, topK int) []retrieval.Scored
}

// Indexer makes a freshly written record searchable.
type Indexer interface {
	Apply(ctx context.Context, rec *record.Record) error
}

// FactExtractor pulls durable facts out of a conversation turn.
type FactExtractor interface {
	Extract(ctx context.Context, userMsg, assistantMsg string) ([]string, error)
}

// Consolidator reconciles new facts with existing memory.
type Consolidator interface {
	Consolidate(ctx context.Context, newFacts []string, scope string) consolidation.Plan
	Apply(ctx context.Context, scope string, plan consolidation.Plan) []*record.Record
}

// Summarizer rolls the scope summary forward.
type Summarizer interface {
	Roll(ctx context.Context, scope string) (*record.Record, error)
}

// Evictor enforces the per-scope capacity bound.
type Evictor interface {
	Evict(ctx context.Context, scope string) ([]string, error)
}

// Snapshotter records the store state after maintenance.
type Snapshotter interface {
	Commit(ctx context.Context, message string) (string, error)
}

// Scrubber removes secrets from text before it is stored.
type Scrubber interface {
	Scrub(ctx context.Context, content string) string
}

// Queue accepts background jobs without blocking.
type Queue interface {
	Enqueue(job tasks.Job) bool
}

// Deps are the collaborators of an Orchestrator. Snapshot and Scrubber are
// optional.
type Deps struct {
	Store        *record.Store
	LLM          llm.Client
	Retriever    Retriever
	Index        Indexer
	Extractor    FactExtractor
	Consolidator Consolidator
	Summarizer   Summarizer
	Evictor      Evictor
	Snapshot     Snapshotter
	Scrubber     Scrubber
	Queue        Queue
}

func (d Deps) validate() error {
	var missing []string
	if d.Store == nil {
		missing = append(missing, "Store")
	}
	if d.LLM == nil {
		missing = append(missing, "LLM")
	}
	if d.Retriever == nil {
		missing = append(missing, "Retriever")
	}
	if d.Index == nil {
		missing = append(missing, "Index")
	}
	if d.Extractor == nil {
		missing = append(missing, "Extractor")
	}
	if d.Consolidator == nil {
		missing = append(missing, "Consolidator")
	}
	if d.Summarizer == nil {
		missing = append(missing, "Summarizer")
	}
	if d.Evictor == nil {
		missing = append(missing, "Evictor")
	}
	if d.Queue == nil {
		missing = append(missing, "Queue")
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Config holds request defaults.
type Config struct {
	DefaultScope      string
	DefaultTopK       int
	SummaryEveryTurns int
}

// DefaultConfig returns scope "default", five memories per request and a
// summary every ten user turns.
func DefaultConfig() Config {
	return Config{DefaultScope: "default", DefaultTopK: 5, SummaryEveryTurns: 10}
}

// FromAppConfig extracts the orchestrator settings from the root config.
func FromAppConfig(c *config.Config) Config {
	return Config{
		DefaultScope:      c.Retrieval.DefaultScope,
		DefaultTopK:       c.Retrieval.TopK,
		SummaryEveryTurns: c.Summarization.EveryTurns,
	}
}

// Orchestrator serves chat requests against scoped memory.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	locks  *scopeLocks
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator. Zero config fields take their defaults.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	d := DefaultConfig()
	if cfg.DefaultScope == "" {
		cfg.DefaultScope = d.DefaultScope
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = d.DefaultTopK
	}
	if cfg.SummaryEveryTurns <= 0 {
		cfg.SummaryEveryTurns = d.SummaryEveryTurns
	}
	o := &Orchestrator{deps: deps, cfg: cfg, logger: zap.NewNop(), locks: newScopeLocks()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// prepared is a validated request ready for the model.
type prepared struct {
	scope    string
	query    string
	memories []retrieval.Scored
	request  llm.Request
}

// Chat answers req using the scope's memories and schedules maintenance.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Chat")
	defer span.End()

	p, err := o.prepare(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ctx = logging.WithScope(ctx, p.scope)
	span.SetAttributes(attribute.String("scope", p.scope), attribute.Int("memories", len(p.memories)))

	resp, err := o.deps.LLM.Complete(ctx, p.request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("complete: %w", err)
	}

	o.afterTurn(ctx, p, resp.Content)
	return o.annotate(p, resp), nil
}

// ChatStream is Chat with incremental output. onDelta receives every text
// fragment in order. Turns are persisted only after the last fragment; an
// error from onDelta aborts the stream and nothing is written.
func (o *Orchestrator) ChatStream(ctx context.Context, req ChatRequest, onDelta func(string) error) (*ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.ChatStream")
	defer span.End()

	p, err := o.prepare(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ctx = logging.WithScope(ctx, p.scope)
	span.SetAttributes(attribute.String("scope", p.scope), attribute.Int("memories", len(p.memories)))

	resp, err := o.deps.LLM.Stream(ctx, p.request, onDelta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("stream: %w", err)
	}

	o.afterTurn(ctx, p, resp.Content)
	return o.annotate(p, resp), nil
}

// Search retrieves memories without calling the model. Empty scope and
// non-positive topK take the configured defaults.
func (o *Orchestrator) Search(ctx context.Context, query, scope string, topK int) ([]retrieval.Scored, error) {
	scope, topK, err := o.resolve(scope, topK)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	return o.deps.Retriever.Retrieve(ctx, query, scope, topK), nil
}

func (o *Orchestrator) resolve(scope string, topK int) (string, int, error) {
	if scope == "" {
		scope = o.cfg.DefaultScope
	}
	if err := record.ValidateScope(scope); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if topK <= 0 {
		topK = o.cfg.DefaultTopK
	}
	return scope, topK, nil
}

func (o *Orchestrator) prepare(ctx context.Context, req ChatRequest) (*prepared, error) {
	scope, topK, err := o.resolve(req.ScopeID, req.TopK)
	if err != nil {
		return nil, err
	}
	query := lastUserMessage(req.Messages)
	if query == "" {
		return nil, fmt.Errorf("%w: no user message", ErrInvalidRequest)
	}

	memories := o.deps.Retriever.Retrieve(ctx, query, scope, topK)
	messages := make([]llm.Message, 0, len(req.Messages)+1)
	if block := memoryBlock(memories); block != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: block})
	}
	messages = append(messages, req.Messages...)

	return &prepared{
		scope:    scope,
		query:    query,
		memories: memories,
		request: llm.Request{
			Model:    req.Model,
			Messages: messages,
			Mode:     llm.ModeConversational,
		},
	}, nil
}

func lastUserMessage(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}

// memoryBlock renders retrieved memories as a system message body. It
// returns "" when there is nothing to add.
func memoryBlock(memories []retrieval.Scored) string {
	var ranked, summary []string
	for _, m := range memories {
		if m.Record.Kind == record.KindSummary {
			summary = append(summary, m.Record.Content)
			continue
		}
		ranked = append(ranked, fmt.Sprintf("- [%s] %s", memoryRole(m.Record.Kind), m.Record.Content))
	}
	if len(ranked) == 0 && len(summary) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You have long-term memory about this user. Use it when relevant.")
	if len(ranked) > 0 {
		b.WriteString("\n\nRelevant memories:\n")
		b.WriteString(strings.Join(ranked, "\n"))
	}
	if len(summary) > 0 {
		b.WriteString("\n\nConversation summary:\n")
		b.WriteString(strings.Join(summary, "\n\n"))
	}
	return b.String()
}

func (o *Orchestrator) annotate(p *prepared, resp *llm.Response) *ChatResponse {
	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	return &ChatResponse{
		ID:           id,
		Model:        resp.Model,
		Scope:        p.scope,
		Content:      resp.Content,
		FinishReason: resp.FinishReason,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Memories:     toMemories(p.memories),
	}
}

func toMemories(scored []retrieval.Scored) []Memory {
	out := make([]Memory, 0, len(scored))
	for _, s := range scored {
		out = append(out, Memory{
			Role:      memoryRole(s.Record.Kind),
			Content:   s.Record.Content,
			CreatedAt: s.Record.CreatedAt,
			Score:     s.Score,
		})
	}
	return out
}

// afterTurn persists both turns and schedules maintenance. Failures are
// logged; the caller already has its answer. The model has answered by
// now, so a client hanging up must not lose the turn.
func (o *Orchestrator) afterTurn(ctx context.Context, p *prepared, answer string) {
	ctx = context.WithoutCancel(ctx)
	userMsg := o.scrub(ctx, p.query)
	answer = o.scrub(ctx, answer)
	o.persist(ctx, p.scope, record.KindUserTurn, userMsg)
	if strings.TrimSpace(answer) != "" {
		o.persist(ctx, p.scope, record.KindAssistantTurn, answer)
	}

	scope := p.scope
	job := tasks.Job{
		Name:  "maintain",
		Scope: scope,
		Run: func(ctx context.Context) error {
			return o.maintain(logging.WithScope(ctx, scope), scope, userMsg, answer)
		},
	}
	if !o.deps.Queue.Enqueue(job) {
		o.logger.Warn("maintenance skipped",
			zap.String("scope", scope),
			zap.String("operation", "enqueue"))
	}
}

func (o *Orchestrator) scrub(ctx context.Context, content string) string {
	if o.deps.Scrubber == nil {
		return content
	}
	return o.deps.Scrubber.Scrub(ctx, content)
}

func (o *Orchestrator) persist(ctx context.Context, scope string, kind record.Kind, content string) {
	rec, err := o.deps.Store.Create(ctx, scope, kind, content)
	if err == nil {
		err = o.deps.Index.Apply(ctx, rec)
	}
	if err != nil {
		o.logger.Error("persisting turn failed",
			zap.String("scope", scope),
			zap.String("operation", "persist"),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
