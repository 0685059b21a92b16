package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/experiment"
	"github.com/boristopalov/vecenv/pkg/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "vecenv",
		Short:        "vecenv loads batched reinforcement learning environments and drives policies against them.",
		SilenceUsage: true,
	}

	for _, envFile := range []string{
		".env",
		"../../.env",
		"../../../.env",
	} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	rootCmd.AddCommand(
		newEnvsCmd(),
		newSpacesCmd(),
		newRunCmd(),
		newBenchCmd(),
		newRunsCmd(),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// installLogger builds the process logger and hands it to the library
// packages.
func installLogger(level, format string) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{Level: level, Format: logging.Format(format)})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	environment.SetLogger(logger.Named("environment"))
	experiment.SetLogger(logger.Named("experiment"))
	return logger, nil
}
