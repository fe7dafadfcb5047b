// Package observability provides OpenTelemetry tracing and metrics for the
// OMS core. It implements production-ready observability following
// cloud-native best practices.
//
// # Tracing
//
// Initialize the provider at application startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Create spans manually:
//
//	ctx, span := p.StartSpan(ctx, "version.track_change")
//	defer span.End()
//
// Or track a whole operation, including RED metrics, in one call:
//
//	ctx, finish := p.TrackOperation(ctx, "version.track_change",
//		observability.ResourceOperation("object_type", "User", "main", 3)...)
//	defer func() { finish(err) }()
package observability
