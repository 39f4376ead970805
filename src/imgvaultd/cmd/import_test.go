package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/q-controller/imgvault/src/pkg/importer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunImportLocal(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	cfg.Root = t.TempDir()

	cli, closeClient, err := imageClient(cfg, "")
	require.NoError(t, err)
	defer closeClient()

	imp, err := importer.New(cli)
	require.NoError(t, err)

	src := t.TempDir()
	good := filepath.Join(src, "a.png")
	bad := filepath.Join(src, "b.txt")
	require.NoError(t, os.WriteFile(good, testPNG, 0644))
	require.NoError(t, os.WriteFile(bad, []byte("text"), 0644))

	var out bytes.Buffer
	err = runImport(context.Background(), &out, imp, []string{good, bad}, "")
	assert.ErrorContains(t, err, "1 of 2 imports failed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "image/png")
	assert.True(t, strings.HasPrefix(lines[1], "FAILED"))

	entries, err := os.ReadDir(cfg.Root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestImageClientRequiresRoot(t *testing.T) {
	_, _, err := imageClient(Config{}, "")
	assert.Error(t, err)

	_, _, err = imageClient(Config{}, "not a url")
	assert.Error(t, err)
}
