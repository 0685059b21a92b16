package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boristopalov/vecenv/pkg/agent"
	"github.com/boristopalov/vecenv/pkg/config"
	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/experiment"
	"github.com/boristopalov/vecenv/pkg/messaging"
	"github.com/boristopalov/vecenv/pkg/metrics"
	"github.com/boristopalov/vecenv/pkg/providers"
	"github.com/boristopalov/vecenv/pkg/storage"
)

type runFlags struct {
	configPath  string
	numEnvs     int
	steps       int
	policy      string
	provider    string
	model       string
	seed        uint64
	opts        []string
	store       string
	dbPath      string
	metricsAddr string
	logLevel    string
	logFormat   string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [env]",
		Short: "Drive a policy against an environment and report its episodes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolve(cmd, args)
			if err != nil {
				return err
			}
			return runExperiment(cmd, cfg, f.opts)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML experiment config")
	fl.IntVarP(&f.numEnvs, "num-envs", "n", 1, "number of instances")
	fl.IntVar(&f.steps, "steps", 100, "batched steps to run")
	fl.StringVar(&f.policy, "policy", "random", "policy: random, index or llm")
	fl.StringVar(&f.provider, "provider", "openai", "llm provider: openai or gemini")
	fl.StringVar(&f.model, "model", "gpt-4o-mini", "llm model id")
	fl.Uint64Var(&f.seed, "seed", 0, "random policy seed")
	fl.StringArrayVarP(&f.opts, "opt", "o", nil, "make-time option as name=value[,value...]")
	fl.StringVar(&f.store, "store", "memory", "run store: memory or sqlite")
	fl.StringVar(&f.dbPath, "db", "vecenv.db", "sqlite database path")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fl.StringVar(&f.logLevel, "log-level", "info", "log level")
	fl.StringVar(&f.logFormat, "log-format", "auto", "log format: auto, console or json")
	return cmd
}

// resolve layers defaults, the config file, VECENV_* variables and explicit
// flags, in that order.
func (f *runFlags) resolve(cmd *cobra.Command, args []string) (*config.ExperimentConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	changed := cmd.Flags().Changed
	if len(args) == 1 {
		cfg.Env.Name = args[0]
	}
	if changed("num-envs") {
		cfg.Env.NumEnvs = f.numEnvs
	}
	if changed("steps") {
		cfg.Steps = f.steps
	}
	if changed("policy") {
		cfg.Policy.Type = f.policy
	}
	if changed("provider") || (cfg.Policy.Type == "llm" && cfg.Policy.Provider == "") {
		cfg.Policy.Provider = f.provider
	}
	if changed("model") {
		cfg.Policy.Model = f.model
	}
	if changed("seed") {
		cfg.Policy.Seed = f.seed
	}
	if changed("store") {
		cfg.Storage.Kind = f.store
	}
	if changed("db") || (cfg.Storage.Kind == storage.KindSQLite && cfg.Storage.Path == "") {
		cfg.Storage.Path = f.dbPath
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run configuration: %w", err)
	}
	return cfg, nil
}

func runExperiment(cmd *cobra.Command, cfg *config.ExperimentConfig, rawOpts []string) error {
	ctx := cmd.Context()
	logger, err := installLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	set, err := cfg.Env.OptionSet()
	if err != nil {
		return err
	}
	extra, err := parseOptions(rawOpts)
	if err != nil {
		return err
	}
	set = append(set, extra...)

	env, err := makeEnv(cfg.Env.Name, cfg.Env.NumEnvs, set)
	if err != nil {
		return err
	}
	defer env.Close()

	policy, err := newPolicy(ctx, cfg.Policy, agent.SpecOf(env), logger)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.Storage.Kind, cfg.Storage.Path)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.Storage.Kind, err)
	}
	defer storage.CloseIfSupported(store)

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg, environment.Default.Live)
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: recorder.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	broker := messaging.NewBroker()
	defer broker.Reset()
	events := make(chan messaging.Message, 256)
	if err := broker.Subscribe("cli", events); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range events {
			if ev, ok := msg.Content.(messaging.EpisodeEvent); ok {
				logger.Info("episode",
					zap.Int("instance", ev.Instance),
					zap.Int("episode", ev.Episode),
					zap.Float64("return", ev.Return),
					zap.Int("length", ev.Length),
				)
			}
		}
	}()

	optNames := make([]string, len(set))
	for i, v := range set {
		optNames[i] = v.String()
	}
	rollout, err := experiment.NewRollout(env, policy,
		experiment.WithSteps(cfg.Steps),
		experiment.WithPolicyName(cfg.Policy.Type),
		experiment.WithOptions(optNames),
		experiment.WithRecorder(recorder),
		experiment.WithBroker(broker),
		experiment.WithStore(store),
	)
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = rollout.Stop()
		case <-finished:
		}
	}()
	runErr := rollout.Run(ctx)
	close(finished)
	_ = broker.Unsubscribe("cli")
	close(events)
	<-done

	printSummary(cmd, rollout.Summary(), rollout.GetStatus())
	return runErr
}

func newPolicy(ctx context.Context, cfg config.PolicyConfig, spec agent.Spec, logger *zap.Logger) (agent.Policy, error) {
	switch cfg.Type {
	case "", "random":
		return agent.NewRandomPolicy(spec, cfg.Seed), nil
	case "index":
		return agent.NewIndexPolicy(spec), nil
	case "llm":
		client, err := providers.New(ctx, cfg.Provider)
		if err != nil {
			return nil, err
		}
		return agent.NewLLMPolicy(spec,
			agent.WithClient(client),
			agent.WithModel(agent.ModelInfo{Id: cfg.Model}),
			agent.WithConcurrency(cfg.Concurrency),
			agent.WithLogger(logger.Named("policy")),
		)
	default:
		return nil, fmt.Errorf("unknown policy %q", cfg.Type)
	}
}

func printSummary(cmd *cobra.Command, s core.Summary, status core.ExperimentStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s on %s x%d\n", s.RunID, s.Env, s.NumEnvs)
	fmt.Fprintf(out, "  steps:       %s (%s transitions)\n", humanize.Comma(int64(s.Steps)), humanize.Comma(int64(s.Steps*s.NumEnvs)))
	fmt.Fprintf(out, "  episodes:    %s\n", humanize.Comma(int64(s.Episodes)))
	fmt.Fprintf(out, "  mean return: %.4f\n", s.MeanReturn)
	fmt.Fprintf(out, "  duration:    %s (%s)\n", s.Duration.Round(time.Millisecond), formatRate(s))
	for _, err := range status.Errors {
		fmt.Fprintf(out, "  error:       %v\n", err)
	}
}

func newBenchCmd() *cobra.Command {
	var (
		numEnvs int
		steps   int
		opts    []string
	)
	cmd := &cobra.Command{
		Use:   "bench <env>",
		Short: "Measure raw step throughput with a random policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := parseOptions(opts)
			if err != nil {
				return err
			}
			env, err := makeEnv(args[0], numEnvs, set)
			if err != nil {
				return err
			}
			defer env.Close()

			rollout, err := experiment.NewRollout(env, agent.NewRandomPolicy(agent.SpecOf(env), 0), experiment.WithSteps(steps))
			if err != nil {
				return err
			}
			if err := rollout.Run(cmd.Context()); err != nil {
				return err
			}
			s := rollout.Summary()
			fmt.Fprintf(cmd.OutOrStdout(), "%s x%s: %s in %s (%s)\n",
				s.Env, humanize.Comma(int64(s.NumEnvs)),
				humanize.Comma(int64(s.Steps*s.NumEnvs)), s.Duration.Round(time.Microsecond),
				formatRate(s))
			return nil
		},
	}
	cmd.Flags().IntVarP(&numEnvs, "num-envs", "n", 64, "number of instances")
	cmd.Flags().IntVar(&steps, "steps", 1000, "batched steps to run")
	cmd.Flags().StringArrayVarP(&opts, "opt", "o", nil, "make-time option as name=value[,value...]")
	return cmd
}
