// Package telemetry provides observability instrumentation for provisor.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified
// system for monitoring entity lifecycle operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for invocations, readiness
//     polling, gateway traffic and error classes
//  4. Event Publishing - Async event stream for lifecycle notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Attach it to the context so entity implementations can reach it:
//
//	ctx = tel.WithContext(ctx)
//
// Instrument an invocation:
//
//	ctx = telemetry.WithInvocationContext(ctx, path, entityType, action)
//	result, err := core.Main(ctx, inv)
//	telemetry.EndInvocationContext(ctx, path, entityType, action, err)
//
// Every component degrades to a no-op when disabled in configuration, so
// call sites never need enabled checks.
package telemetry
