package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/goraft/server/pkg/raft/core"
	"github.com/goraft/server/pkg/raft/definition"
	"github.com/goraft/server/pkg/raft/metrics"
	"github.com/goraft/server/pkg/raft/types"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
		metricsBind string
	)

	cmd := &cobra.Command{
		Use:   "raftserver",
		Short: "Run the network-facing reactor of a Raft consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug, metricsBind)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "raftserver.toml", "path to the node's TOML configuration")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	cmd.Flags().StringVar(&metricsBind, "metrics-bind", "", "optional address to serve Prometheus metrics on, e.g. 127.0.0.1:9100")

	return cmd
}

func run(configPath string, debug bool, metricsBind string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := definition.NewLogrusLogger("raftserver", debug)
	cfg.Log = log

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)
	cfg.Metrics = collector

	if metricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsBind, mux); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	store := types.NewInMemoryStore()
	stateMachine := types.NewInMemoryStateMachine()
	replica := newReplicaStub(store, stateMachine, log)

	server, err := core.New(cfg, replica)
	if err != nil {
		return fmt.Errorf("construct reactor: %w", err)
	}

	log.Infof("reactor starting: self=%v bind=%s peers=%d", cfg.Self, cfg.BindAddress, len(cfg.Peers))
	return server.Run()
}
