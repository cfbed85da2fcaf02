package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/Iron-Ham/logfunnel/internal/coordinator"
	"github.com/Iron-Ham/logfunnel/internal/demo"
	"github.com/Iron-Ham/logfunnel/internal/emitter"
	"github.com/Iron-Ham/logfunnel/internal/event"
	"github.com/Iron-Ham/logfunnel/internal/listener"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
	"github.com/Iron-Ham/logfunnel/internal/sink"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the listener and a set of demo producers",
	Long: `Run one aggregation lifecycle: start the listener, start the demo
producers, wait for them to finish, then shut the listener down with a
single sentinel. Every record ends up in the sink file exactly once.

Examples:
  # Ten producers, ten records each, into ./mptest_log.txt
  logfunnel run

  # Three producers writing JSON into /var/log
  logfunnel run -p 3 --log-dir /var/log --format json

  # Run every role as a goroutine instead of a child process
  logfunnel run --in-process`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runInProcess bool
	runVerbose   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("producers", "p", 10, "Number of producer processes")
	runCmd.Flags().IntP("records", "r", 10, "Records emitted by each producer")
	runCmd.Flags().Duration("interval", 0, "Pause between records")
	runCmd.Flags().String("log-dir", "", "Directory of the sink file")
	runCmd.Flags().String("format", "", "Sink file format (text/json)")
	runCmd.Flags().String("spec", "", "YAML handler spec (replaces the sink.* settings)")
	runCmd.Flags().String("metrics-addr", "", "Serve listener metrics on this address")
	runCmd.Flags().BoolVar(&runInProcess, "in-process", false, "Run listener and producers as goroutines")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print process lifecycle events")

	_ = viper.BindPFlag("producer.count", runCmd.Flags().Lookup("producers"))
	_ = viper.BindPFlag("producer.records", runCmd.Flags().Lookup("records"))
	_ = viper.BindPFlag("producer.interval", runCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("sink.dir", runCmd.Flags().Lookup("log-dir"))
	_ = viper.BindPFlag("sink.format", runCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("listener.spec_file", runCmd.Flags().Lookup("spec"))
	_ = viper.BindPFlag("listener.metrics_addr", runCmd.Flags().Lookup("metrics-addr"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	spec, err := loadSinkSpec(cfg, "")
	if err != nil {
		return err
	}
	level, err := record.ParseLevel(cfg.Producer.Level)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fb := logging.NewFallback(cmd.ErrOrStderr())

	var bus *event.Bus
	if runVerbose {
		bus = event.NewBus(fb)
		bus.SubscribeAll(func(e event.Event) { printEvent(cmd.ErrOrStderr(), e) })
	}

	var (
		launcher coordinator.Launcher
		specs    []coordinator.ProducerSpec
	)
	if runInProcess {
		launcher = &coordinator.InProcessLauncher{
			Serve: listener.ServeOptions{
				Configure:    spec.Configure(),
				DrainTimeout: cfg.Queue.DrainTimeout,
				MetricsAddr:  cfg.Listener.MetricsAddr,
				Fallback:     fb,
				Bus:          bus,
			},
			Produce: emitter.ProducerOptions{
				Level:        level,
				BufferSize:   cfg.Queue.BufferSize,
				FlushTimeout: cfg.Queue.FlushTimeout,
				Fallback:     fb,
			},
			StopGrace: cfg.Listener.StopGrace,
		}
		specs = coordinator.Specs(cfg.Producer.Count, func(name string) emitter.Body {
			return demo.Worker(name, demo.Options{
				Records:  cfg.Producer.Records,
				Interval: cfg.Producer.Interval,
				Out:      out,
			})
		})
	} else {
		launcher = execLauncher(cfg, spec, out, cmd.ErrOrStderr())
		specs = coordinator.Specs(cfg.Producer.Count, nil)
		for i := range specs {
			specs[i].Args = []string{
				"--records", strconv.Itoa(cfg.Producer.Records),
				"--interval", cfg.Producer.Interval.String(),
			}
		}
	}

	c := coordinator.New(coordinator.Options{
		Launcher:     launcher,
		QueueDir:     cfg.Queue.Dir,
		ProcessName:  cfg.Coordinator.ProcessName,
		Level:        level,
		BufferSize:   cfg.Queue.BufferSize,
		FlushTimeout: cfg.Queue.FlushTimeout,
		JoinTimeout:  cfg.Listener.JoinTimeout,
		Fallback:     fb,
		Bus:          bus,
	})

	res, err := c.Run(cmd.Context(), specs)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run complete: %d of %d producers started\n", len(res.Started), len(specs))
	if cfg.Listener.SpecFile == "" {
		fmt.Fprintf(out, "Log written to %s\n", cfg.Sink.Path())
	}
	if !res.OK() {
		return fmt.Errorf("%d producer(s) failed to start, %d exited with an error",
			len(res.StartErrors), len(res.ProducerErrors))
	}
	return nil
}

// execLauncher re-executes this binary for each role. Children read the
// same config file and LOGFUNNEL_* environment.
func execLauncher(cfg *config.Config, spec *sink.Spec, stdout, stderr io.Writer) *coordinator.ExecLauncher {
	var env []string
	if used := viper.ConfigFileUsed(); used != "" {
		env = append(env, config.EnvPrefix+"_CONFIG="+used)
	}
	listen := []string{"listen"}
	if cfg.Listener.MetricsAddr != "" {
		listen = append(listen, "--metrics-addr", cfg.Listener.MetricsAddr)
	}
	return &coordinator.ExecLauncher{
		ListenArgs: listen,
		Spec:       spec,
		Env:        env,
		Stdout:     stdout,
		Stderr:     stderr,
		StopGrace:  cfg.Listener.StopGrace,
	}
}

// loadSinkSpec returns the handler spec at path, the configured spec file,
// or the spec described by the sink.* settings, in that order.
func loadSinkSpec(cfg *config.Config, path string) (*sink.Spec, error) {
	if path == "" {
		path = cfg.Listener.SpecFile
	}
	if path != "" {
		return sink.LoadSpec(path)
	}
	spec := sink.DefaultSpec(cfg.Sink)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func printEvent(w io.Writer, e event.Event) {
	switch ev := e.(type) {
	case event.ProcessStartedEvent:
		if ev.PID > 0 {
			fmt.Fprintf(w, "started %s %s (pid %d)\n", ev.Role, ev.Name, ev.PID)
		} else {
			fmt.Fprintf(w, "started %s %s\n", ev.Role, ev.Name)
		}
	case event.ProcessStartFailedEvent:
		fmt.Fprintf(w, "failed to start %s %s: %v\n", ev.Role, ev.Name, ev.Err)
	case event.ProcessExitedEvent:
		if ev.Success() {
			fmt.Fprintf(w, "%s %s finished\n", ev.Role, ev.Name)
		} else {
			fmt.Fprintf(w, "%s %s exited: %v\n", ev.Role, ev.Name, ev.Err)
		}
	case event.ListenerStateEvent:
		fmt.Fprintf(w, "listener: %s -> %s\n", ev.Previous, ev.Current)
	case event.SentinelSentEvent:
		if ev.Err != nil {
			fmt.Fprintf(w, "sentinel not delivered: %v\n", ev.Err)
		} else {
			fmt.Fprintln(w, "sentinel sent")
		}
	case event.DispatchFailedEvent:
		fmt.Fprintf(w, "dispatch failed (%s): %v\n", ev.Kind, ev.Err)
	}
}
