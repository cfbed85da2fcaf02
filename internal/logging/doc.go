// Package logging provides the log call surface used by producer processes
// and the file utilities used by sinks.
//
// # Features
//
//   - [Logger]: leveled calls (DEBUG through CRITICAL), printf-style calls,
//     dotted child loggers and failure capture via [Logger.Exception]
//   - [Fallback]: the local error-reporting path for diagnostics that cannot
//     travel through the aggregation queue
//   - [RotatingWriter]: size-based rotation with numbered backups and optional
//     gzip compression
//   - [AggregateLogs], [FilterLogs], [ExportLogEntries]: read back and slice
//     JSON sink files
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers share
// the parent's handler.
//
// # Basic Usage
//
// A producer's logger is backed by a queue-backed handler (see the emitter
// package):
//
//	log := emitter.Configure(client, emitter.Options{ProcessName: "Process-1"})
//	defer log.Close()
//
//	log.Logger("a.b.c").Info("work started", "items", 3)
//	log.Logger("d.e.f").Warnf("retrying in %s", delay)
//	log.Exception("write failed", err)
//
// Use [Logger.Log] when the caller needs to notice shutdown:
//
//	if err := log.Log(ctx, record.LevelInfo, "tick"); errors.IsShutdown(err) {
//	    return err
//	}
//
// # Log Rotation
//
//	rw, err := logging.NewRotatingWriter("/var/log/app/mptest_log.txt", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named mptest_log.txt.1, mptest_log.txt.2, etc., where .1
// is the most recent backup. With compression they become .1.gz and so on.
//
// # Log Aggregation and Filtering
//
//	entries, err := logging.AggregateLogs("/var/log/app/mptest_log.txt")
//	filtered, err := logging.FilterLogs(entries, logging.LogFilter{
//	    Level:         "WARNING",
//	    LoggerPattern: "a.**",
//	    Process:       "Process-2",
//	})
//	logging.ExportLogEntries(filtered, "errors.csv", "csv")
//
// # Testing
//
// Use [NopLogger] to discard all log output.
package logging
