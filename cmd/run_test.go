package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommandReturnsErrorOnRefusedGate(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	rootCmd.SetArgs([]string{
		"run",
		"--packages", "pkg-orders",
		"--iflows", "if-ord-create",
		"--set", "Simulation.Latency=0s",
		"--set", "Simulation.UploadFailRate=1",
		"--log-level", "error",
	})
	err = rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped at artifact-upload")

	// the report is written before the command fails
	reports, err := filepath.Glob(filepath.Join("reports", "*-report.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}
