// Package orchestrator ties retrieval, the chat model and background memory
// maintenance into a single request pipeline.
//
// # Overview
//
// Every chat request takes two paths through the orchestrator. The read
// path runs inline: it retrieves memories for the scope, augments the
// conversation with them and forwards it to the model. The write path
// persists the new turns and hands the slower maintenance work to a
// background worker so the caller never waits on it.
//
// # Read Path
//
//	resolve scope → retrieve → augment → complete → annotate
//
// The query is the last user message. Retrieved memories, and the scope's
// live summary when one exists, are rendered into a system message placed
// ahead of the caller's messages. The response carries the memories that
// were used so clients can show them.
//
// # Write Path
//
// After the model answers, the user and assistant turns are passed through
// the optional Scrubber, then written to the record store and indexed
// synchronously. One maintenance job is then
// enqueued. It runs these phases in order:
//
//	extract → consolidate → summarize → evict → snapshot
//
// A failing phase is logged with the scope and phase name and the
// remaining phases still run. Maintenance errors never reach the caller.
//
// Remember runs only the consolidate step, for facts supplied directly by
// a client instead of extracted from a turn.
//
// # Concurrency
//
// Maintenance jobs and Remember calls for the same scope are serialized by
// a per-scope lock. Jobs for different scopes run in parallel on the worker
// pool.
//
// # Usage
//
//	o, err := orchestrator.New(orchestrator.Deps{
//	    Store:       store,
//	    LLM:         client,
//	    Retriever:   retrievalEngine,
//	    Index:       syncer,
//	    Extractor:   consolidation.NewExtractor(client, logger),
//	    Consolidator: consolidationEngine,
//	    Summarizer:  roller,
//	    Evictor:     evictionManager,
//	    Queue:       pool,
//	}, orchestrator.FromAppConfig(cfg), orchestrator.WithLogger(logger))
//
//	resp, err := o.Chat(ctx, orchestrator.ChatRequest{
//	    ScopeID:  "alice",
//	    Messages: []llm.Message{{Role: llm.RoleUser, Content: "What coffee do I like?"}},
//	})
package orchestrator
