// Package llm is the completion client used for chat forwarding, fact
// extraction, consolidation decisions and summarization.
//
// Two modes exist. ModeDeterministic pins temperature to 0 for calls whose
// output is parsed as JSON; ModeConversational uses the configured chat
// temperature. Providers are Anthropic (official SDK) and any
// OpenAI-compatible /v1/chat/completions endpoint.
package llm
