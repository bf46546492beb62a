//go:build unix

package shell

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_RunsInDirWithEnv(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	cmd := Command(context.Background(), `echo "$GREETING" > out.txt && pwd`, Options{
		Dir:    dir,
		Env:    append(os.Environ(), "GREETING=hello"),
		Stdout: &out,
	})
	require.NoError(t, cmd.Run())

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, out.String(), filepath.Base(resolved))
}

func TestCommand_CancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := Command(ctx, "sleep 30 & sleep 30; wait", Options{})
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(WaitDelay + 2*time.Second):
		t.Fatal("cancelled command did not exit")
	}
}
