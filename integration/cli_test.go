package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIConfigInitGeneratesValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "generated-config.json")

	cmd := exec.Command(binaryPath, "-config-init", configPath)
	output, err := cmd.CombinedOutput()
	t.Logf("config-init output: %s", output)

	require.NoError(t, err, "config-init should succeed")
	assert.Contains(t, string(output), "Generated default config at:")

	fi, err := os.Stat(configPath)
	require.NoError(t, err, "config file should exist")
	require.Greater(t, fi.Size(), int64(0), "config file should not be empty")

	cmd = exec.Command(binaryPath, "-config", configPath, "-validate")
	output, err = cmd.CombinedOutput()
	t.Logf("validate output: %s", output)

	require.NoError(t, err, "validate should succeed for a generated file")
	assert.Contains(t, string(output), "Result: PASS")
}

func TestCLIValidateRejectsPlainTextSecret(t *testing.T) {
	cfg := testConfig()
	cfg["sessionSecret"] = "plain-text-secret-that-is-long-enough"
	configPath := writeTestConfig(t, cfg)

	cmd := exec.Command(binaryPath, "-config", configPath, "-validate")
	output, err := cmd.CombinedOutput()
	t.Logf("validate output: %s", output)

	require.Error(t, err, "validate should exit non-zero")
	assert.Contains(t, string(output), "sessionSecret")
	assert.Contains(t, string(output), "Result: FAIL")
}

func TestCLIRequiresConfigFlag(t *testing.T) {
	output, err := exec.Command(binaryPath).CombinedOutput()
	require.Error(t, err)
	assert.Contains(t, string(output), "-config flag is required")
}
