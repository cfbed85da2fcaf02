// Package demo is the producer body used by "logfunnel run": a worker that
// emits a few records with random levels, loggers and messages from small
// fixed sets.
package demo

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/emitter"
	ferrors "github.com/Iron-Ham/logfunnel/internal/errors"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
)

// Loggers are the dotted logger names a worker picks from.
var Loggers = []string{"a.b.c", "d.e.f"}

// Messages are the messages a worker picks from.
var Messages = []string{
	"Random message #1",
	"Random message #2",
	"Random message #3",
}

// Options configures a worker.
type Options struct {
	// Records is how many records the worker emits (default: 3).
	Records int
	// Interval is the pause before each record.
	Interval time.Duration
	// Rand picks levels, loggers and messages. Defaults to a random source.
	Rand *rand.Rand
	// Out receives the start and finish lines (default: stdout).
	Out io.Writer
}

// Worker returns a producer body that emits opts.Records random records.
func Worker(name string, opts Options) emitter.Body {
	if opts.Records == 0 {
		opts.Records = 3
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	levels := record.Levels()

	return func(ctx context.Context, log *logging.Logger) error {
		fmt.Fprintf(opts.Out, "Worker started: %s\n", name)
		for range opts.Records {
			if err := sleep(ctx, opts.Interval); err != nil {
				return err
			}
			logger := log.Logger(pick(opts.Rand, Loggers))
			level := pick(opts.Rand, levels)
			if err := logger.Log(ctx, level, pick(opts.Rand, Messages)); err != nil {
				return err
			}
		}
		fmt.Fprintf(opts.Out, "Worker finished: %s\n", name)
		return nil
	}
}

func pick[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ferrors.NewShutdownError(ctx.Err())
	case <-timer.C:
		return nil
	}
}
