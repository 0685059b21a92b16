package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boristopalov/vecenv/pkg/environment"
	"github.com/boristopalov/vecenv/pkg/storage"
)

func TestEnvsCmd(t *testing.T) {
	cmd := newEnvsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), environment.PatternName)
	assert.Contains(t, out.String(), environment.GuessNumberName)
}

func TestSpacesCmd(t *testing.T) {
	cmd := newSpacesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{environment.PatternName, "-n", "2", "-o", "num_workers=2"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "uint8_obs")
	assert.Contains(t, out.String(), "rgb_array")

	cmd = newSpacesCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{environment.PatternName, "-o", "bogus=1"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	t.Setenv("VECENV_STORE", "")
	f := &runFlags{}
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--steps", "7", "--policy", "index", "-n", "3"}))
	f.steps, f.policy, f.numEnvs = 7, "index", 3

	cfg, err := f.resolve(cmd, []string{environment.GuessNumberName})
	require.NoError(t, err)
	assert.Equal(t, environment.GuessNumberName, cfg.Env.Name)
	assert.Equal(t, 7, cfg.Steps)
	assert.Equal(t, "index", cfg.Policy.Type)
	assert.Equal(t, 3, cfg.Env.NumEnvs)
	assert.Equal(t, storage.KindMemory, cfg.Storage.Kind)
}

func TestRunCmdWritesSQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	cmd := newRunCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{environment.PatternName,
		"--policy", "index", "--steps", "100", "-n", "4",
		"--store", "sqlite", "--db", db, "--log-level", "error",
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "episodes:    4")

	runs := newRunsCmd()
	out.Reset()
	runs.SetOut(&out)
	runs.SetArgs([]string{"--db", db})
	require.NoError(t, runs.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, out.String(), environment.PatternName)
}

func TestBenchCmd(t *testing.T) {
	cmd := newBenchCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{environment.GuessNumberName, "-n", "8", "--steps", "50", "-o", "num_bits=8"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "steps/s")
}
