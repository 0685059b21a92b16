package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/option"
	"github.com/boristopalov/vecenv/pkg/space"
	"github.com/boristopalov/vecenv/pkg/storage"
)

func newEnvsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "envs",
		Short: "List the registered environments",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range environment.Default.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func newSpacesCmd() *cobra.Command {
	var (
		numEnvs int
		opts    []string
	)
	cmd := &cobra.Command{
		Use:   "spaces <env>",
		Short: "Print the observation, action, info and render spaces of an environment",
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

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tNAME\tKIND\tDTYPE\tSHAPE\tBOUNDS\tBYTES")
			for _, role := range space.Roles() {
				for _, sp := range env.Spaces(role) {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n",
						role, sp.Name, sp.Kind, sp.DType(), sp.Shape, sp.Bounds,
						humanize.IBytes(uint64(sp.ByteSize())))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&numEnvs, "num-envs", "n", 1, "number of instances to make")
	cmd.Flags().StringArrayVarP(&opts, "opt", "o", nil, "make-time option as name=value[,value...]")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List rollouts recorded in a sqlite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := storage.NewStore(storage.KindSQLite, dbPath)
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer storage.CloseIfSupported(store)

			runs, err := store.ListRuns(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENV\tN\tPOLICY\tSTEPS\tEPISODES\tMEAN RETURN\tSTATUS\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%.3f\t%s\t%s\n",
					r.ID, r.Env, r.NumEnvs, r.Policy,
					humanize.Comma(int64(r.Steps)), humanize.Comma(int64(r.Episodes)),
					r.MeanReturn, r.Status, humanize.Time(r.StartedAt))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "vecenv.db", "sqlite database path")
	return cmd
}

func parseOptions(raw []string) (option.Set, error) {
	set := make(option.Set, 0, len(raw))
	for _, r := range raw {
		v, err := option.ParseAssignment(r)
		if err != nil {
			return nil, err
		}
		set = append(set, v)
	}
	return set, nil
}

func makeEnv(name string, n int, set option.Set) (environment.VecEnv, error) {
	h, err := environment.Open(name)
	if err != nil {
		return nil, err
	}
	return h.Make(n, set)
}

func formatRate(s core.Summary) string {
	if s.Duration <= 0 {
		return "n/a"
	}
	return humanize.CommafWithDigits(s.StepsPerSecond(), 1) + " steps/s"
}
