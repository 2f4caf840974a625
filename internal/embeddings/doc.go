// Package embeddings turns text into vectors for the vector index.
//
// Two providers exist: TEI, an external text-embeddings-inference server
// reached over HTTP, and FastEmbed, which runs ONNX models in process and
// needs a cgo build. Query embeddings can be memoized with an in-memory
// ristretto cache since retrieval embeds the same user messages repeatedly.
package embeddings
