// Package collector reads enforcement decisions published by the hook and
// hands them to sinks.
//
// One reader task runs per (direction, CPU) source. Each task blocks until a
// record arrives or its context is cancelled; there is no per-read timeout.
// Records are decoded from the fixed 16-byte layout described in package
// telemetry. Malformed records are logged and skipped, lost-sample
// notifications are logged and counted; neither stops the collector.
//
// # Example
//
//	c, err := collector.New(sources, collector.NewLogSink(nil))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	_ = c.Run(ctx)
package collector
