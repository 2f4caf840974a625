// Package logging wraps zap with context-aware helpers for memoryd.
//
// Components normally accept a plain *zap.Logger and fall back to zap.NewNop
// when given nil. The Logger type in this package adds context correlation
// (trace ids, scope, operation, request id) for call sites that carry a
// context.Context, plus secret redaction at the encoder level.
//
// Construct from config:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	defer logger.Sync()
//
//	ctx = logging.WithScope(ctx, "conv-42")
//	logger.Info(ctx, "memories retrieved", zap.Int("count", 5))
//
// Tests use NewTestLogger, which records entries in memory.
package logging
