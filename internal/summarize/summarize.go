// Package summarize compresses conversation history into a summary that
// fits a token budget. Long input is chunked, each chunk is summarized in
// parallel, and the partial summaries are merged recursively until they
// fit.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("memoryd.summarize")

const minChunkSummaryTokens = 64

// Config holds summarization parameters.
type Config struct {
	TargetTokens  int
	ChunkTokens   int
	OverlapTokens int
	MaxDepth      int
	Parallelism   int
}

// DefaultConfig returns the stock parameters.
func DefaultConfig() Config {
	return Config{
		TargetTokens:  3000,
		ChunkTokens:   2048,
		OverlapTokens: 200,
		MaxDepth:      10,
		Parallelism:   4,
	}
}

// FromAppConfig converts the application config section.
func FromAppConfig(c config.SummarizationConfig) Config {
	return Config{
		TargetTokens:  c.TargetTokens,
		ChunkTokens:   c.ChunkTokens,
		OverlapTokens: c.OverlapTokens,
		MaxDepth:      c.MaxDepth,
		Parallelism:   c.Parallelism,
	}
}

// Result describes one summarization.
type Result struct {
	Summary          string  `json:"summary"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CollapseDepth    int     `json:"collapse_depth"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Engine runs map-reduce summarization.
type Engine struct {
	client  llm.Client
	tok     *Tokenizer
	cfg     Config
	logger  *zap.Logger
	metrics *metrics
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

// NewEngine creates an Engine. Zero config fields take their defaults.
func NewEngine(client llm.Client, tok *Tokenizer, cfg Config, opts ...Option) *Engine {
	d := DefaultConfig()
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = d.TargetTokens
	}
	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = d.ChunkTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = d.MaxDepth
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = d.Parallelism
	}
	if tok == nil {
		tok = ApproxTokenizer()
	}
	e := &Engine{
		client:  client,
		tok:     tok,
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: newMetrics(otel.Meter(instrumentationName)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Summarize compresses content to at most targetTokens tokens, using prior
// for continuity. targetTokens <= 0 selects the configured target. Content
// that already fits is returned unchanged without calling the model.
func (e *Engine) Summarize(ctx context.Context, content, prior string, targetTokens int) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Engine.Summarize")
	defer span.End()

	if targetTokens <= 0 {
		targetTokens = e.cfg.TargetTokens
	}
	in := e.tok.Count(content)
	span.SetAttributes(attribute.Int("input_tokens", in), attribute.Int("target_tokens", targetTokens))

	if in <= targetTokens {
		return e.finish(ctx, content, in, 0, start), nil
	}

	chunks := newSplitter(e.tok, e.cfg.ChunkTokens, e.cfg.OverlapTokens).split(content)
	summaries, err := e.mapChunks(ctx, chunks, prior, perChunk(targetTokens, len(chunks)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("summarize chunks: %w", err)
	}

	depth := 0
	for depth < e.cfg.MaxDepth && e.tok.Count(joinSummaries(summaries)) > targetTokens {
		depth++
		batches := e.batch(summaries)
		summaries, err = e.mapChunks(ctx, batches, "", perChunk(targetTokens, len(batches)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, fmt.Errorf("collapse level %d: %w", depth, err)
		}
		e.logger.Debug("summaries collapsed",
			zap.Int("depth", depth),
			zap.Int("batches", len(batches)))
	}

	final := joinSummaries(summaries)
	if len(summaries) > 1 || e.tok.Count(final) > targetTokens {
		final, err = e.call(ctx, synthesisPrompt(targetTokens, prior), final)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, fmt.Errorf("final synthesis: %w", err)
		}
	}
	if e.tok.Count(final) > targetTokens {
		final = e.tok.Truncate(final, targetTokens)
	}

	res := e.finish(ctx, final, in, depth, start)
	span.SetAttributes(
		attribute.Int("output_tokens", res.OutputTokens),
		attribute.Int("collapse_depth", depth),
		attribute.Int("chunks", len(chunks)))
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

func (e *Engine) finish(ctx context.Context, summary string, in, depth int, start time.Time) Result {
	out := e.tok.Count(summary)
	ratio := 1.0
	if in > 0 {
		ratio = float64(out) / float64(in)
	}
	res := Result{
		Summary:          summary,
		InputTokens:      in,
		OutputTokens:     out,
		CollapseDepth:    depth,
		CompressionRatio: ratio,
	}
	e.metrics.record(ctx, res, time.Since(start))
	return res
}

// mapChunks summarizes every chunk in parallel, preserving order.
func (e *Engine) mapChunks(ctx context.Context, chunks []string, prior string, budget int) ([]string, error) {
	out := make([]string, len(chunks))
	system := chunkPrompt(budget, prior)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, chunk := range chunks {
		g.Go(func() error {
			s, err := e.call(gctx, system, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// batch groups summaries into runs of at most ChunkTokens tokens.
func (e *Engine) batch(summaries []string) []string {
	var (
		out  []string
		cur  []string
		used int
	)
	for _, s := range summaries {
		n := e.tok.Count(s)
		if len(cur) > 0 && used+n > e.cfg.ChunkTokens {
			out = append(out, joinSummaries(cur))
			cur, used = nil, 0
		}
		cur = append(cur, s)
		used += n
	}
	if len(cur) > 0 {
		out = append(out, joinSummaries(cur))
	}
	return out
}

func (e *Engine) call(ctx context.Context, system, text string) (string, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: text}},
		Mode:     llm.ModeDeterministic,
	})
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(resp.Content)
	if s == "" {
		return "", llm.ErrEmptyResponse
	}
	return s, nil
}

func perChunk(target, n int) int {
	if n <= 0 {
		return target
	}
	return max(target/n, minChunkSummaryTokens)
}

func joinSummaries(s []string) string {
	return strings.Join(s, "\n\n")
}

func chunkPrompt(budget int, prior string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the following part of a conversation in at most %d tokens. ", budget)
	b.WriteString("Keep facts about the user, decisions, open questions and names. Drop greetings and filler. ")
	b.WriteString("Respond with the summary text only.")
	if prior != "" {
		b.WriteString("\n\nSummary of the conversation so far, for context:\n")
		b.WriteString(prior)
	}
	return b.String()
}

func synthesisPrompt(budget int, prior string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge the following partial summaries into one coherent summary of at most %d tokens. ", budget)
	b.WriteString("Remove repetition, keep every distinct fact, and prefer later information when parts disagree. ")
	b.WriteString("Respond with the summary text only.")
	if prior != "" {
		b.WriteString("\n\nEarlier summary, to be superseded:\n")
		b.WriteString(prior)
	}
	return b.String()
}
