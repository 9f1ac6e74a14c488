package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replit/object-storage-go/internal/sidecar"
	"github.com/replit/object-storage-go/objectstorage"
)

// run executes objstore with args and returns its standard output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// localConfig writes a config selecting the local backend under a temp dir.
func localConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "objstore.yaml")
	content := fmt.Sprintf("bucket: cli-bucket\nbackend:\n  type: local\n  local:\n    root_dir: %s\nlogging:\n  level: error\n", filepath.Join(dir, "objects"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestObjectCommands(t *testing.T) {
	cfg := localConfig(t)

	_, err := run(t, "", "--config", cfg, "put", "notes/a.txt", "--text", "alpha")
	require.NoError(t, err)
	_, err = run(t, "from stdin", "--config", cfg, "put", "notes/b.txt")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "c.txt")
	require.NoError(t, os.WriteFile(src, []byte("from file"), 0o644))
	_, err = run(t, "", "--config", cfg, "put", "other/c.txt", src)
	require.NoError(t, err)

	out, err := run(t, "", "--config", cfg, "cat", "notes/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", out)

	out, err = run(t, "", "--config", cfg, "ls")
	require.NoError(t, err)
	assert.Equal(t, "notes/a.txt\nnotes/b.txt\nother/c.txt\n", out)

	out, err = run(t, "", "--config", cfg, "ls", "--prefix", "notes/", "--max", "1")
	require.NoError(t, err)
	assert.Equal(t, "notes/a.txt\n", out)

	out, err = run(t, "", "--config", cfg, "ls", "--glob", "*/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "other/c.txt\n", out)

	_, err = run(t, "", "--config", cfg, "cp", "notes/a.txt", "copy.txt")
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "copy.txt")
	_, err = run(t, "", "--config", cfg, "get", "copy.txt", dst)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	_, err = run(t, "", "--config", cfg, "rm", "copy.txt", "notes/a.txt")
	require.NoError(t, err)
	out, err = run(t, "", "--config", cfg, "ls", "--prefix", "notes/")
	require.NoError(t, err)
	assert.Equal(t, "notes/b.txt\n", out)
}

func TestRemoveMissing(t *testing.T) {
	cfg := localConfig(t)

	_, err := run(t, "", "--config", cfg, "rm", "missing.txt")
	assert.ErrorIs(t, err, objectstorage.ErrObjectNotFound)

	_, err = run(t, "", "--config", cfg, "rm", "--ignore-not-found", "missing.txt")
	assert.NoError(t, err)
}

func TestExistsExitStatus(t *testing.T) {
	cfg := localConfig(t)
	_, err := run(t, "", "--config", cfg, "put", "here.txt", "--text", "x")
	require.NoError(t, err)

	out, err := run(t, "", "--config", cfg, "exists", "here.txt")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = run(t, "", "--config", cfg, "exists", "-q", "gone.txt")
	var ex *exitError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, ex.code)
	assert.Empty(t, out)
}

func TestBucketFromSidecar(t *testing.T) {
	emu := sidecar.NewEmulator(sidecar.EmulatorConfig{BucketID: "replit-objstore-test"})
	srv := httptest.NewServer(emu.Handler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "objstore.yaml")
	content := fmt.Sprintf("sidecar:\n  url: %s\nbackend:\n  type: memory\nlogging:\n  level: error\n", srv.URL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := run(t, "", "--config", path, "bucket")
	require.NoError(t, err)
	assert.Equal(t, "replit-objstore-test\n", out)

	// --bucket overrides the sidecar.
	out, err = run(t, "", "--config", path, "--bucket", "explicit", "bucket")
	require.NoError(t, err)
	assert.Equal(t, "explicit\n", out)
}

func TestInvalidBackendFlag(t *testing.T) {
	_, err := run(t, "", "--config", localConfig(t), "--backend", "ftp", "ls")
	assert.ErrorContains(t, err, "unknown backend type")
}
