package main

import (
	"fmt"
	"hist2d/internal/domain"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeProject(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()

	matrix := "Y/X\t0\t1\t2\t3\n" +
		"0\t0\t1\t2\t3\n" +
		"1\t1\t2\t3\t4\n" +
		"2\t2\t3\t4\t5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(matrix), 0o644))

	config := fmt.Sprintf(`
bins: [4, 4]
arrays:
  - name: f
dataset:
  - name: f
    association: point
    files: [f.txt]
workers: 2
log_level: error
output:
  grid: %[1]s/grid.txt
  bins: %[1]s/bins.txt
  image: %[1]s/hist.tiff
  metadata: %[1]s/meta.yaml
`, dir)
	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	return dir, configPath
}

func readMetadata(t *testing.T, path string) domain.Metadata {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var meta domain.Metadata
	require.NoError(t, yaml.Unmarshal(data, &meta))
	return meta
}

func TestExecuteCommandWritesOutputs(t *testing.T) {
	dir, configPath := writeProject(t)

	root := newRootCmd()
	root.SetArgs([]string{"execute", "--config", configPath})
	require.NoError(t, root.Execute())

	for _, name := range []string{"grid.txt", "bins.txt", "hist.tiff", "meta.yaml"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	meta := readMetadata(t, filepath.Join(dir, "meta.yaml"))
	assert.Equal(t, [3]int{4, 4, 1}, meta.Dimensions)
	assert.Equal(t, [3]float64{0, 0, 0}, meta.Origin)
	assert.Equal(t, [3]float64{1.25, 1.25, 1}, meta.Spacing)
}

func TestDescribeCommandHonorsFlags(t *testing.T) {
	dir, configPath := writeProject(t)

	root := newRootCmd()
	root.SetArgs([]string{"describe", "--config", configPath, "--bins-x", "10", "--gradient"})
	require.NoError(t, root.Execute())

	meta := readMetadata(t, filepath.Join(dir, "meta.yaml"))
	assert.Equal(t, [3]int{10, 4, 1}, meta.Dimensions)
	assert.Equal(t, 0.5, meta.Spacing[0])
	// f = x + y on a unit grid has a constant gradient magnitude of sqrt(2)
	assert.InDelta(t, 1.4142135623730951, meta.Origin[1], 1e-12)
	assert.Zero(t, meta.Spacing[1])

	_, err := os.Stat(filepath.Join(dir, "grid.txt"))
	assert.True(t, os.IsNotExist(err), "describe must not bin")
}

func TestCommandErrors(t *testing.T) {
	_, configPath := writeProject(t)

	root := newRootCmd()
	root.SetArgs([]string{"execute", "--config", filepath.Join(filepath.Dir(configPath), "missing.yaml")})
	root.SetErr(os.Stderr)
	assert.Error(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"execute", "--config", configPath, "--bins-y=-2"})
	assert.ErrorIs(t, root.Execute(), domain.ErrInvalidBins)

	root = newRootCmd()
	root.SetArgs([]string{"execute", "--config", configPath, "--bins-x=0"})
	assert.ErrorIs(t, root.Execute(), domain.ErrInvalidBins)
}
