// Package telemetry wires memoryd to OpenTelemetry and Prometheus.
//
// # Overview
//
// Packages instrument themselves against the global OpenTelemetry
// providers (otel.Tracer and otel.Meter). New installs OTLP-backed
// providers when export is enabled; otherwise the no-op globals stay in
// place and instrumentation costs nothing.
//
// A separate Prometheus registry backs the /metrics endpoint. It carries
// the Go runtime collectors, a memoryd_records gauge computed from the
// record store on every scrape, and memoryd_background_jobs_total fed by
// the worker pool's outcome hook.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	metrics := telemetry.NewRegistry(store)
//	pool := tasks.New(poolCfg, tasks.WithOutcomeHook(metrics.JobOutcome))
//	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc        # or http/protobuf
//	  sample_rate: 1.0
//	  export_interval: 15s
//
// # Error Handling
//
// Telemetry failures do not stop the daemon. A provider that cannot be
// created is logged and the instance reports itself degraded.
package telemetry
