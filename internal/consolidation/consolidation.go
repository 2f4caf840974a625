// Package consolidation reconciles newly extracted facts against the facts
// already stored for a scope. A bounded neighbourhood of similar facts is
// handed to the model, which labels every item ADD, UPDATE, DELETE or NONE.
// Any failure, and any degenerate answer, falls back to keeping every new
// fact verbatim.
package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("memoryd.consolidation")

// ErrInconsistentOutput is returned when the decision labels reference
// unknown memories or are otherwise unusable.
var ErrInconsistentOutput = errors.New("inconsistent consolidation output")

const defaultNeighborhoodSize = 10

// Event is a consolidation decision label.
type Event string

const (
	EventAdd    Event = "ADD"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventNone   Event = "NONE"
)

// Decision is one labelled item as returned by the model. ID is an ordinal
// into the neighbourhood for existing memories.
type Decision struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Event     Event  `json:"event"`
	OldMemory string `json:"old_memory,omitempty"`
}

// Addition is a fact to store. Replaces names the record it supersedes.
type Addition struct {
	Content  string
	Replaces string
}

// Plan is the outcome of Consolidate.
type Plan struct {
	ToAdd     []Addition
	ToDelete  []string
	Decisions []Decision
	// Fallback is set when the plan keeps every new fact verbatim because
	// the decision step failed or produced nothing to add.
	Fallback bool
}

// Searcher finds similar records. retrieval.Engine implements it.
type Searcher interface {
	Candidates(ctx context.Context, query, scope string, k int, kinds ...record.Kind) ([]vectorstore.Hit, error)
}

// Indexer keeps the vector index in step with the store. indexsync.Syncer
// implements it.
type Indexer interface {
	Apply(ctx context.Context, rec *record.Record) error
	Remove(ctx context.Context, scope, id string) error
}

// Config holds consolidation parameters.
type Config struct {
	NeighborhoodSize int
}

// FromAppConfig converts the application config section.
func FromAppConfig(c config.ConsolidationConfig) Config {
	return Config{NeighborhoodSize: c.NeighborhoodSize}
}

// Engine consolidates facts.
type Engine struct {
	store    *record.Store
	searcher Searcher
	index    Indexer
	client   llm.Client
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(store *record.Store, searcher Searcher, index Indexer, client llm.Client, cfg Config, opts ...Option) *Engine {
	if cfg.NeighborhoodSize <= 0 {
		cfg.NeighborhoodSize = defaultNeighborhoodSize
	}
	e := &Engine{
		store:    store,
		searcher: searcher,
		index:    index,
		client:   client,
		cfg:      cfg,
		logger:   zap.NewNop(),
		metrics:  newMetrics(otel.Meter(instrumentationName)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Consolidate decides how newFacts change the facts stored in scope. It
// never fails: errors are logged and produce a fallback plan.
func (e *Engine) Consolidate(ctx context.Context, newFacts []string, scope string) Plan {
	ctx, span := tracer.Start(ctx, "Engine.Consolidate")
	defer span.End()
	span.SetAttributes(attribute.String("scope", scope), attribute.Int("new_facts", len(newFacts)))

	facts := cleanFacts(newFacts)
	if len(facts) == 0 {
		return Plan{}
	}

	neighbors, err := e.neighborhood(ctx, facts, scope)
	if err != nil {
		return e.fallback(ctx, span, scope, facts, fmt.Errorf("fetch neighbourhood: %w", err))
	}
	if len(neighbors) == 0 {
		plan := addAll(facts, false)
		e.metrics.recordPlan(ctx, plan)
		return plan
	}

	decisions, err := e.decide(ctx, neighbors, facts)
	if err != nil {
		return e.fallback(ctx, span, scope, facts, err)
	}
	plan, err := buildPlan(neighbors, facts, decisions)
	if err != nil {
		return e.fallback(ctx, span, scope, facts, err)
	}
	if len(plan.ToAdd) == 0 {
		return e.fallback(ctx, span, scope, facts, errors.New("no ADD or UPDATE decisions for non-empty input"))
	}

	e.logger.Debug("consolidation planned",
		zap.String("scope", scope),
		zap.Int("neighbors", len(neighbors)),
		zap.Int("to_add", len(plan.ToAdd)),
		zap.Int("to_delete", len(plan.ToDelete)))
	e.metrics.recordPlan(ctx, plan)
	span.SetStatus(codes.Ok, "success")
	return plan
}

func (e *Engine) fallback(ctx context.Context, span trace.Span, scope string, facts []string, cause error) Plan {
	span.RecordError(cause)
	e.logger.Warn("consolidation fell back to add-all",
		zap.String("scope", scope),
		zap.String("operation", "consolidate"),
		zap.Int("facts", len(facts)),
		zap.Error(cause))
	plan := addAll(facts, true)
	e.metrics.recordPlan(ctx, plan)
	return plan
}

// neighborhood gathers existing facts of scope similar to any new fact,
// deduplicated, ordered by similarity and capped at NeighborhoodSize.
func (e *Engine) neighborhood(ctx context.Context, facts []string, scope string) ([]vectorstore.Hit, error) {
	byID := make(map[string]vectorstore.Hit)
	for _, f := range facts {
		hits, err := e.searcher.Candidates(ctx, f, scope, e.cfg.NeighborhoodSize, record.KindFact)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.Scope != scope {
				continue
			}
			if prev, ok := byID[h.ID]; ok && prev.Similarity >= h.Similarity {
				continue
			}
			byID[h.ID] = h
		}
	}

	out := make([]vectorstore.Hit, 0, len(byID))
	for _, h := range byID {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > e.cfg.NeighborhoodSize {
		out = out[:e.cfg.NeighborhoodSize]
	}
	return out, nil
}

type promptMemory struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type decisionOutput struct {
	Memory []Decision `json:"memory"`
}

func (e *Engine) decide(ctx context.Context, neighbors []vectorstore.Hit, facts []string) ([]Decision, error) {
	existing := make([]promptMemory, len(neighbors))
	for i, h := range neighbors {
		existing[i] = promptMemory{ID: strconv.Itoa(i), Text: h.Content}
	}
	oldJSON, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode memories: %w", err)
	}
	newJSON, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode facts: %w", err)
	}

	resp, err := e.client.Complete(ctx, llm.Request{
		System: decisionPrompt,
		Messages: []llm.Message{{
			Role: llm.RoleUser,
			Content: "Current memory:\n" + string(oldJSON) +
				"\n\nNew facts:\n" + string(newJSON),
		}},
		Mode: llm.ModeDeterministic,
	})
	if err != nil {
		return nil, fmt.Errorf("decision call: %w", err)
	}

	var out decisionOutput
	if err := llm.DecodeJSON(resp.Content, &out); err != nil {
		return nil, err
	}
	return out.Memory, nil
}

// buildPlan maps ordinal ids back to record ids and validates every label.
// The labelling must be complete: every neighbour carries a label and every
// new fact is covered by an ADD, UPDATE or NONE decision.
func buildPlan(neighbors []vectorstore.Hit, facts []string, decisions []Decision) (Plan, error) {
	plan := Plan{Decisions: make([]Decision, 0, len(decisions))}
	deleted := make(map[string]bool)
	updated := make(map[string]bool)
	added := make(map[string]bool)
	labelled := make([]bool, len(neighbors))
	var covering []string

	lookup := func(ordinal string) (int, bool) {
		i, err := strconv.Atoi(strings.TrimSpace(ordinal))
		if err != nil || i < 0 || i >= len(neighbors) {
			return 0, false
		}
		return i, true
	}

	for _, d := range decisions {
		d.Event = Event(strings.ToUpper(strings.TrimSpace(string(d.Event))))
		d.Text = strings.TrimSpace(d.Text)

		switch d.Event {
		case EventAdd:
			if d.Text == "" {
				return Plan{}, fmt.Errorf("%w: ADD with empty text", ErrInconsistentOutput)
			}
			if !added[d.Text] {
				added[d.Text] = true
				plan.ToAdd = append(plan.ToAdd, Addition{Content: d.Text})
			}
			covering = append(covering, d.Text)
		case EventUpdate:
			i, ok := lookup(d.ID)
			if !ok {
				return Plan{}, fmt.Errorf("%w: UPDATE of unknown id %q", ErrInconsistentOutput, d.ID)
			}
			if d.Text == "" {
				return Plan{}, fmt.Errorf("%w: UPDATE with empty text", ErrInconsistentOutput)
			}
			old := neighbors[i]
			if updated[old.ID] {
				return Plan{}, fmt.Errorf("%w: id %q updated twice", ErrInconsistentOutput, d.ID)
			}
			if deleted[old.ID] {
				return Plan{}, fmt.Errorf("%w: UPDATE of deleted id %q", ErrInconsistentOutput, d.ID)
			}
			updated[old.ID] = true
			deleted[old.ID] = true
			labelled[i] = true
			plan.ToDelete = append(plan.ToDelete, old.ID)
			plan.ToAdd = append(plan.ToAdd, Addition{Content: d.Text, Replaces: old.ID})
			covering = append(covering, d.Text)
			d.ID = old.ID
		case EventDelete:
			i, ok := lookup(d.ID)
			if !ok {
				return Plan{}, fmt.Errorf("%w: DELETE of unknown id %q", ErrInconsistentOutput, d.ID)
			}
			old := neighbors[i]
			if updated[old.ID] {
				return Plan{}, fmt.Errorf("%w: DELETE of updated id %q", ErrInconsistentOutput, d.ID)
			}
			if !deleted[old.ID] {
				deleted[old.ID] = true
				plan.ToDelete = append(plan.ToDelete, old.ID)
			}
			labelled[i] = true
			d.ID = old.ID
		case EventNone:
			if i, ok := lookup(d.ID); ok {
				labelled[i] = true
				d.ID = neighbors[i].ID
			}
			covering = append(covering, d.Text)
		default:
			return Plan{}, fmt.Errorf("%w: unknown event %q", ErrInconsistentOutput, d.Event)
		}
		plan.Decisions = append(plan.Decisions, d)
	}

	for i, ok := range labelled {
		if !ok {
			return Plan{}, fmt.Errorf("%w: memory %d has no label", ErrInconsistentOutput, i)
		}
	}
	for _, f := range facts {
		if !covered(f, covering) {
			return Plan{}, fmt.Errorf("%w: new fact %q has no label", ErrInconsistentOutput, f)
		}
	}
	return plan, nil
}

// covered reports whether fact appears in one of the decision texts,
// ignoring case and whitespace. An UPDATE may merge the fact into a longer
// text, so containment counts.
func covered(fact string, texts []string) bool {
	want := normalize(fact)
	for _, t := range texts {
		if strings.Contains(normalize(t), want) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func addAll(facts []string, fallback bool) Plan {
	plan := Plan{Fallback: fallback}
	for _, f := range facts {
		plan.ToAdd = append(plan.ToAdd, Addition{Content: f})
		plan.Decisions = append(plan.Decisions, Decision{Text: f, Event: EventAdd})
	}
	return plan
}

// cleanFacts trims facts and drops blanks and exact repeats.
func cleanFacts(facts []string) []string {
	seen := make(map[string]bool, len(facts))
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Apply executes plan against scope and returns the records it created.
// Deletions run first. Superseded records are tombstoned after their
// replacement exists so replaced_by can point at it. Item failures are
// logged and skipped.
func (e *Engine) Apply(ctx context.Context, scope string, plan Plan) []*record.Record {
	ctx, span := tracer.Start(ctx, "Engine.Apply")
	defer span.End()

	replaced := make(map[string]bool)
	for _, a := range plan.ToAdd {
		if a.Replaces != "" {
			replaced[a.Replaces] = true
		}
	}

	for _, id := range plan.ToDelete {
		if replaced[id] {
			continue
		}
		if err := e.retire(ctx, scope, id, ""); err != nil {
			e.logger.Warn("delete failed",
				zap.String("scope", scope),
				zap.String("operation", "consolidate.apply"),
				zap.String("id", id),
				zap.Error(err))
		}
	}

	created := make([]*record.Record, 0, len(plan.ToAdd))
	for _, a := range plan.ToAdd {
		rec, err := e.store.Create(ctx, scope, record.KindFact, a.Content)
		if err != nil {
			e.logger.Warn("add failed",
				zap.String("scope", scope),
				zap.String("operation", "consolidate.apply"),
				zap.Error(err))
			continue
		}
		created = append(created, rec)
		if err := e.index.Apply(ctx, rec); err != nil {
			e.logger.Warn("indexing new fact failed",
				zap.String("scope", scope),
				zap.String("id", rec.ID),
				zap.Error(err))
		}
		if a.Replaces == "" {
			continue
		}
		if err := e.retire(ctx, scope, a.Replaces, rec.ID); err != nil {
			e.logger.Warn("update failed to retire old fact",
				zap.String("scope", scope),
				zap.String("operation", "consolidate.apply"),
				zap.String("id", a.Replaces),
				zap.String("replaced_by", rec.ID),
				zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("created", len(created)))
	return created
}

// retire deindexes and tombstones one record.
func (e *Engine) retire(ctx context.Context, scope, id, replacedBy string) error {
	if err := e.index.Remove(ctx, scope, id); err != nil {
		return fmt.Errorf("deindex: %w", err)
	}
	if _, err := e.store.Tombstone(ctx, scope, id, replacedBy); err != nil {
		return fmt.Errorf("tombstone: %w", err)
	}
	return nil
}

const decisionPrompt = `You are a smart memory manager which controls the memory of a system.
You compare newly retrieved facts with the existing memory and decide, for every existing memory and every new fact, one of four operations:
- ADD: the fact is new information. Add it with a new id.
- UPDATE: the fact refines an existing memory about the same subject. Keep the existing id and give the new text.
- DELETE: the fact contradicts an existing memory. Keep the existing id.
- NONE: nothing changes, because the item is unrelated or already present.

Rules:
1. Existing memories are identified by the ids given. Never invent ids for UPDATE or DELETE.
2. If a new fact contradicts an existing memory, DELETE the existing memory and ADD the new fact.
3. If a new fact carries the same meaning as an existing memory, use NONE.
4. If a new fact adds detail to an existing memory, UPDATE that memory with the combined text.

Respond ONLY with a JSON object of this form:
{"memory":[{"id":"0","text":"...","event":"ADD|UPDATE|DELETE|NONE","old_memory":"..."}]}`
