// Package redact removes secrets from text before it is written to the
// record store.
//
// Detection uses the gitleaks default rule set. Each detected secret is
// replaced with a marker of the form [REDACTED:rule-id], which keeps enough
// context for embeddings and summaries without keeping the value. An
// optional TOML allowlist suppresses known false positives:
//
//	[allowlist]
//	regexes = ['DEMO_[A-Z_]+']
package redact
