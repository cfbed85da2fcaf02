package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/Iron-Ham/logfunnel/internal/demo"
	"github.com/Iron-Ham/logfunnel/internal/emitter"
	"github.com/Iron-Ham/logfunnel/internal/listener"
	"github.com/Iron-Ham/logfunnel/internal/logging"
	"github.com/Iron-Ham/logfunnel/internal/record"
	"github.com/Iron-Ham/logfunnel/internal/sink"
	"github.com/spf13/cobra"
)

// queueFD is the descriptor the coordinator passes the queue socket on.
const queueFD = 3

var listenCmd = &cobra.Command{
	Use:    "listen",
	Short:  "Run the listener role (started by 'logfunnel run')",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runListen,
}

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a demo producer role (started by 'logfunnel run')",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

var (
	listenSpec        string
	listenMetricsAddr string
	listenFD          int

	workerName     string
	workerAddr     string
	workerRecords  int
	workerInterval time.Duration
)

func init() {
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(workerCmd)

	listenCmd.Flags().StringVar(&listenSpec, "spec", "", "Handler spec file, or - for stdin")
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "Serve metrics on this address")
	listenCmd.Flags().IntVar(&listenFD, "fd", queueFD, "Inherited queue socket descriptor")

	workerCmd.Flags().StringVar(&workerName, "name", "", "Producer process name")
	workerCmd.Flags().StringVar(&workerAddr, "addr", "", "Aggregation queue socket")
	workerCmd.Flags().IntVar(&workerRecords, "records", 0, "Records to emit (default: producer.records)")
	workerCmd.Flags().DurationVar(&workerInterval, "interval", 0, "Pause between records (default: producer.interval)")
	_ = workerCmd.MarkFlagRequired("name")
	_ = workerCmd.MarkFlagRequired("addr")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var spec *sink.Spec
	if listenSpec == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading handler spec: %w", err)
		}
		spec, err = sink.ParseSpec(data)
		if err != nil {
			return err
		}
	} else if spec, err = loadSinkSpec(cfg, listenSpec); err != nil {
		return err
	}

	metricsAddr := listenMetricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Listener.MetricsAddr
	}

	f := os.NewFile(uintptr(listenFD), "queue")
	return listener.ServeFile(cmd.Context(), f, listener.ServeOptions{
		Configure:    spec.Configure(),
		DrainTimeout: cfg.Queue.DrainTimeout,
		MetricsAddr:  metricsAddr,
		Fallback:     logging.NewFallback(cmd.ErrOrStderr()),
	})
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := record.ParseLevel(cfg.Producer.Level)
	if err != nil {
		return err
	}

	opts := demo.Options{
		Records:  cfg.Producer.Records,
		Interval: cfg.Producer.Interval,
		Out:      cmd.OutOrStdout(),
	}
	if cmd.Flags().Changed("records") {
		opts.Records = workerRecords
	}
	if cmd.Flags().Changed("interval") {
		opts.Interval = workerInterval
	}

	return emitter.Produce(cmd.Context(), emitter.ProducerOptions{
		Name:         workerName,
		Addr:         workerAddr,
		Level:        level,
		BufferSize:   cfg.Queue.BufferSize,
		FlushTimeout: cfg.Queue.FlushTimeout,
		Fallback:     logging.NewFallback(cmd.ErrOrStderr()),
	}, demo.Worker(workerName, opts))
}
