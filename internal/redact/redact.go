package redact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Finding describes one redacted secret. The value itself is not kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is the outcome of redacting one text.
type Result struct {
	Content  string
	Findings []Finding
}

// Config controls redaction.
type Config struct {
	Enabled       bool
	AllowlistPath string
}

// FromAppConfig converts the application config section.
func FromAppConfig(c config.RedactionConfig) Config {
	return Config{Enabled: c.Enabled, AllowlistPath: c.Allowlist}
}

// Redactor scrubs secrets from text. It is safe for concurrent use.
type Redactor struct {
	enabled bool
	logger  *zap.Logger

	mu       sync.Mutex
	detector *detect.Detector

	findings metric.Int64Counter
}

// New builds a Redactor. Compiling the gitleaks rule set is slow, so a
// Redactor should be created once and shared.
func New(cfg Config, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Redactor{enabled: cfg.Enabled, logger: logger}
	if !cfg.Enabled {
		return r, nil
	}

	al, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if err := applyAllowlist(&d.Config, al); err != nil {
		return nil, err
	}
	r.detector = d

	r.findings, err = otel.Meter("memoryd.redact").Int64Counter(
		"memoryd.redact.findings",
		metric.WithDescription("Secrets removed before persistence"),
	)
	if err != nil {
		logger.Warn("failed to create redaction counter", zap.Error(err))
	}
	return r, nil
}

func applyAllowlist(cfg *gitleaksconfig.Config, al *Allowlist) error {
	if len(al.Regexes) == 0 && len(al.StopWords) == 0 {
		return nil
	}
	res, err := al.compile()
	if err != nil {
		return err
	}
	entry := &gitleaksconfig.Allowlist{
		Description: "memoryd allowlist",
		StopWords:   al.StopWords,
	}
	for _, re := range res {
		entry.Regexes = append(entry.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, entry)
	return nil
}

// Enabled reports whether detection runs.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Redact returns content with every detected secret replaced by a
// [REDACTED:rule-id] marker.
func (r *Redactor) Redact(ctx context.Context, content string) Result {
	if !r.Enabled() || strings.TrimSpace(content) == "" {
		return Result{Content: content}
	}

	r.mu.Lock()
	found := r.detector.DetectString(content)
	r.mu.Unlock()
	if len(found) == 0 {
		return Result{Content: content}
	}

	// Longest secrets first so a secret that contains another is replaced
	// whole.
	sort.SliceStable(found, func(i, j int) bool {
		return len(found[i].Secret) > len(found[j].Secret)
	})
	res := Result{Content: content, Findings: make([]Finding, 0, len(found))}
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		res.Content = strings.ReplaceAll(res.Content, f.Secret, "[REDACTED:"+f.RuleID+"]")
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
		if r.findings != nil {
			r.findings.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", f.RuleID)))
		}
	}
	if len(res.Findings) > 0 {
		r.logger.Info("redacted secrets", zap.Int("count", len(res.Findings)))
	}
	return res
}

// Scrub is Redact without the findings.
func (r *Redactor) Scrub(ctx context.Context, content string) string {
	return r.Redact(ctx, content).Content
}
