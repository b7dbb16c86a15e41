package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/warren-agent/pkg/agent"
	"github.com/cuemby/warren-agent/pkg/checkpoint"
	"github.com/cuemby/warren-agent/pkg/config"
	"github.com/cuemby/warren-agent/pkg/isolator/containerd"
	"github.com/cuemby/warren-agent/pkg/log"
	"github.com/cuemby/warren-agent/pkg/metrics"
	"github.com/cuemby/warren-agent/pkg/reaper"
	"github.com/cuemby/warren-agent/pkg/registry"
	"github.com/cuemby/warren-agent/pkg/statusmanager"
	"github.com/cuemby/warren-agent/pkg/transport/noop"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "warren-agent",
	Short:   "node-agent core: executor supervision and reliable status reporting",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"warren-agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the node-agent daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
		return runAgent(configPath, containerdSocket)
	},
}

func init() {
	startCmd.Flags().String("config", "/etc/warren-agent/config.yaml", "Path to the agent's YAML configuration file")
	startCmd.Flags().String("containerd-socket", "", "containerd socket path (default auto-detected)")
}

func runAgent(configPath, containerdSocket string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	agentID, coldStart, err := checkpoint.DiscoverAgentID(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("discover agent id: %w", err)
	}
	log.Logger.Info().Str("agent_id", agentID).Bool("cold_start", coldStart).Msg("resolved agent identity")

	store := checkpoint.New(cfg.WorkDir, agentID)
	metrics.RegisterComponent("checkpoint", true, "")

	isol, err := containerd.New(containerdSocket)
	if err != nil {
		metrics.RegisterComponent("isolator", false, err.Error())
		return fmt.Errorf("connect to containerd: %w", err)
	}
	metrics.RegisterComponent("isolator", true, "")

	reap := reaper.New(log.Logger)

	var ag *agent.Agent

	execTr := noop.NewExecutorTransport(log.Logger)
	masterTr := noop.NewMasterTransport(log.Logger)

	statusMgr := statusmanager.New(log.Logger, store, masterTr, execTr, cfg.SoftStatusUpdateCapPerFramework)

	reg := registry.New(log.Logger, store, isol, statusMgr, execTr, registry.Config{
		WorkDir:                     cfg.WorkDir,
		LauncherDir:                 cfg.LauncherDir,
		ExecutorShutdownGracePeriod: cfg.ExecutorShutdownGracePeriod,
		MaxCompletedExecutors:       cfg.MaxCompletedExecutorsPerFramework,
		MaxCompletedTasks:           cfg.MaxCompletedTasksPerExecutor,
		OnExecutorLaunched: func(frameworkID, executorID string, pid int) {
			ag.TrackExecutor(frameworkID, executorID, pid)
		},
	})

	ag = agent.New(log.Logger, cfg, agent.Deps{
		Store:    store,
		Registry: reg,
		Status:   statusMgr,
		Isolator: isol,
		Reaper:   reap,
		Master:   masterTr,
		Executor: execTr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metrics.SetVersion(Version)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", metrics.HealthHandler())
		mux.HandleFunc("/readyz", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if err := ag.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	ag.Stop(context.Background())
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	return nil
}
