// Package shell runs command lines through sh. Each command gets its own
// process group so cancelling it also stops anything it spawned.
package shell

import (
	"context"
	"io"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps reading output after a cancelled
// command's group has been killed.
const WaitDelay = 5 * time.Second

type Options struct {
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Command prepares line to run under sh -c. Cancelling ctx kills the whole
// process group.
func Command(ctx context.Context, line string, opts Options) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.WaitDelay = WaitDelay
	configureGroup(cmd)
	return cmd
}
