//go:build unix

package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/gojob/internal/shared/logging"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
)

func TestCommandExecutor_RunsInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	var out bytes.Buffer

	e := NewCommandExecutor(dir, append(os.Environ(), "GOJOB_TEST=value"), &out, &out, logging.Nop{})
	err := e.Run(context.Background(), []protocol.Command{
		{Command: "echo first"},
		{Command: "pwd", WorkingPath: "sub"},
		{Command: `echo "$GOJOB_TEST"`},
	}, nil)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "first", lines[0])
	assert.Equal(t, "sub", filepath.Base(lines[1]))
	assert.Equal(t, "value", lines[2])
}

func TestCommandExecutor_AbsoluteWorkingPath(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()

	e := NewCommandExecutor(dir, nil, nil, nil, logging.Nop{})
	require.NoError(t, e.Run(context.Background(), []protocol.Command{
		{Command: "touch marker", WorkingPath: other},
	}, nil))

	assert.FileExists(t, filepath.Join(other, "marker"))
}

func TestCommandExecutor_FailureStopsRun(t *testing.T) {
	dir := t.TempDir()

	e := NewCommandExecutor(dir, nil, nil, nil, logging.Nop{})
	err := e.Run(context.Background(), []protocol.Command{
		{Command: "exit 3"},
		{Command: "touch never"},
	}, nil)
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "exit 3", cmdErr.Command)

	var exitErr *exec.ExitError
	assert.True(t, errors.As(err, &exitErr))
	assert.NoFileExists(t, filepath.Join(dir, "never"))
}

func TestCommandExecutor_MissingWorkingDir(t *testing.T) {
	e := NewCommandExecutor(t.TempDir(), nil, nil, nil, logging.Nop{})
	err := e.Run(context.Background(), []protocol.Command{{Command: "true", WorkingPath: "missing"}}, nil)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestCommandExecutor_BackgroundNeedsScope(t *testing.T) {
	e := NewCommandExecutor(t.TempDir(), nil, nil, nil, logging.Nop{})
	err := e.Run(context.Background(), []protocol.Command{{Command: "sleep 10", Background: true}}, nil)

	var cmdErr *CommandError
	assert.True(t, errors.As(err, &cmdErr))
}

func TestScope_CloseStopsBackgroundCommands(t *testing.T) {
	dir := t.TempDir()
	e := NewCommandExecutor(dir, nil, nil, nil, logging.Nop{})
	scope := e.NewScope("chunk 1")

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), []protocol.Command{
		{Command: "sleep 30", Background: true},
		{Command: "sleep 30 & wait", Background: true},
		{Command: "echo done > fg.txt"},
	}, scope))
	assert.Equal(t, 2, scope.Len())
	assert.FileExists(t, filepath.Join(dir, "fg.txt"))

	require.NoError(t, scope.Close())
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 0, scope.Len())

	require.NoError(t, scope.Close())

	err := e.Run(context.Background(), []protocol.Command{{Command: "sleep 1", Background: true}}, scope)
	assert.Error(t, err)
}
