package main

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/embeddings"
	"github.com/fyrsmithlabs/memoryd/internal/eviction"
	"github.com/fyrsmithlabs/memoryd/internal/indexsync"
	"github.com/fyrsmithlabs/memoryd/internal/llm"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/orchestrator"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/redact"
	"github.com/fyrsmithlabs/memoryd/internal/reranker"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/fyrsmithlabs/memoryd/internal/snapshot"
	"github.com/fyrsmithlabs/memoryd/internal/summarize"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// app holds the components every command needs: the record store, the
// vector index behind it and the ranking engine.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	store     *record.Store
	embedder  embeddings.Provider
	index     vectorstore.Index
	syncer    *indexsync.Syncer
	retrieval *retrieval.Engine
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

type loggerFunc func(*logging.Config) (*logging.Logger, error)

// newApp wires the read path with logs on stdout. Callers must Close the
// result.
func newApp() (*app, error) {
	return openApp(logging.NewLogger)
}

func openApp(newLogger loggerFunc) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	lc, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger, err := newLogger(lc)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	zl := logger.Underlying()

	if a.store, err = record.NewStore(cfg.Store.Root, record.WithLogger(zl)); err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}
	if a.embedder, err = embeddings.NewProvider(cfg.Embeddings, zl); err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	if a.index, err = vectorstore.NewIndex(cfg.Index, a.embedder, zl); err != nil {
		_ = a.embedder.Close()
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	a.syncer, err = indexsync.New(a.store, a.index,
		indexsync.WithLogger(zl),
		indexsync.WithDebounce(cfg.Sync.Debounce.Duration()),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("creating index syncer: %w", err)
	}

	scorer, err := reranker.New(cfg.Reranker)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("creating reranker: %w", err)
	}
	a.retrieval = retrieval.NewEngine(a.store, a.index, scorer,
		retrieval.FromAppConfig(cfg.Retrieval),
		retrieval.WithLogger(zl),
	)
	return a, nil
}

// newOrchestrator wires the write path on top of the read path. Background
// maintenance goes to queue.
func (a *app) newOrchestrator(queue orchestrator.Queue) (*orchestrator.Orchestrator, error) {
	cfg := a.cfg
	zl := a.logger.Underlying()

	client, err := llm.New(llm.FromAppConfig(cfg.LLM), zl)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	redactor, err := redact.New(redact.FromAppConfig(cfg.Redaction), zl)
	if err != nil {
		return nil, fmt.Errorf("creating redactor: %w", err)
	}

	deps := orchestrator.Deps{
		Store:     a.store,
		LLM:       client,
		Retriever: a.retrieval,
		Index:     a.syncer,
		Extractor: consolidation.NewExtractor(client, zl),
		Consolidator: consolidation.NewEngine(a.store, a.retrieval, a.syncer, client,
			consolidation.FromAppConfig(cfg.Consolidation),
			consolidation.WithLogger(zl)),
		Summarizer: summarize.NewRoller(a.store, a.syncer,
			summarize.NewEngine(client, summarize.NewTokenizer(zl),
				summarize.FromAppConfig(cfg.Summarization),
				summarize.WithLogger(zl)),
			zl),
		Evictor:  eviction.New(a.store, a.syncer, cfg.Eviction.MaxEntries, zl),
		Scrubber: redactor,
		Queue:    queue,
	}
	if cfg.Snapshot.Enabled {
		deps.Snapshot = snapshot.FromAppConfig(cfg.Store.Root, cfg.Snapshot, zl)
	}
	return orchestrator.New(deps, orchestrator.FromAppConfig(cfg), orchestrator.WithLogger(zl))
}

// Close releases the index and the embedding provider.
func (a *app) Close() error {
	var errs []error
	if a.syncer != nil {
		errs = append(errs, a.syncer.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	errs = append(errs, a.logger.Sync())
	return errors.Join(errs...)
}
