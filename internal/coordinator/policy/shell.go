// Package policy holds the configurable policies the coordinator binary runs
// jobs with.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nemanja-m/gojob/internal/coordinator/core"
	"github.com/nemanja-m/gojob/internal/shared/config"
	"github.com/nemanja-m/gojob/internal/shared/protocol"
)

// Placeholders expanded in command templates.
const (
	PlaceholderJobID       = "${JOB_ID}"
	PlaceholderJobURL      = "${JOB_URL}"
	PlaceholderExecutorID  = "${EXECUTOR_ID}"
	PlaceholderChunkID     = "${CHUNK_ID}"
	PlaceholderChunk       = "${CHUNK}"
	PlaceholderExecutorDir = "${EXECUTOR_DIR}"
	PlaceholderIndex       = "${INDEX}"
)

// ErrNoResult is returned when an upload has no file matching the result
// pattern.
var ErrNoResult = errors.New("no result file in upload")

// Shell is a Policy over string chunks driven entirely by configuration.
// Each chunk value is substituted into the configured command templates and
// its result is the content of the first uploaded file matching the result
// pattern.
type Shell struct {
	job       config.JobConfig
	host      string
	port      int
	lookupEnv func(string) (string, bool)
}

var _ core.Policy[string] = (*Shell)(nil)

func NewShell(job config.JobConfig, server config.ServerConfig) *Shell {
	return &Shell{
		job:       job,
		host:      server.Host,
		port:      server.Port,
		lookupEnv: os.LookupEnv,
	}
}

func (s *Shell) ExecutorCount() int {
	return s.job.ExecutorCount
}

func (s *Shell) Host() string {
	return s.host
}

func (s *Shell) Port() int {
	return s.port
}

// SetPort records the port the server actually bound.
func (s *Shell) SetPort(port int) {
	s.port = port
}

func (s *Shell) StartupCommands() []protocol.Command {
	return expand(s.job.StartupCommands, nil)
}

func (s *Shell) ShutdownCommands() []protocol.Command {
	return expand(s.job.ShutdownCommands, nil)
}

// Environment combines the coordinator variables named in env_keys with the
// literal KEY=VALUE entries. Literal entries win.
func (s *Shell) Environment() map[string]string {
	env := make(map[string]string)
	for _, key := range s.job.EnvKeys {
		if value, ok := s.lookupEnv(key); ok {
			env[key] = value
		}
	}
	for _, entry := range s.job.Environment {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func (s *Shell) UploadDir() string {
	return s.job.UploadDir
}

func (s *Shell) PreCommands(cc core.ChunkContext[string]) []protocol.Command {
	return expand(s.job.PreCommands, chunkReplacer(cc))
}

func (s *Shell) MainCommands(cc core.ChunkContext[string]) []protocol.Command {
	return expand(s.job.MainCommands, chunkReplacer(cc))
}

func (s *Shell) PostCommands(cc core.ChunkContext[string]) []protocol.Command {
	return expand(s.job.PostCommands, chunkReplacer(cc))
}

// ExecutorCommand expands the configured executor command. Without one it
// runs the executor image with docker, passing the job URL in the
// environment.
func (s *Shell) ExecutorCommand(jobID, jobURL string, index int) string {
	r := strings.NewReplacer(
		PlaceholderJobID, jobID,
		PlaceholderJobURL, jobURL,
		PlaceholderIndex, strconv.Itoa(index),
	)
	if s.job.ExecutorCommand != "" {
		return r.Replace(s.job.ExecutorCommand)
	}

	parts := []string{"docker", "run", "--rm", "--cap-add=SYS_ADMIN"}
	if opts := strings.TrimSpace(s.job.ExecutorOptions); opts != "" {
		parts = append(parts, r.Replace(opts))
	}
	parts = append(parts, "-e", config.JobURLEnv+"="+jobURL, s.job.DockerImage)
	return strings.Join(parts, " ")
}

// HandleUpload returns the content of the first file under dir matching the
// result pattern.
func (s *Shell) HandleUpload(ctx context.Context, dir string, chunk *core.Chunk[string]) (string, error) {
	files, err := core.FindFiles(dir, s.job.ResultPattern)
	if err != nil {
		return "", fmt.Errorf("invalid result pattern %q: %w", s.job.ResultPattern, err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("chunk %s: %w matching %q", chunk.ID, ErrNoResult, s.job.ResultPattern)
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Shell) ShutdownTimeout() time.Duration {
	return s.job.ShutdownTimeout
}

func chunkReplacer(cc core.ChunkContext[string]) *strings.Replacer {
	return strings.NewReplacer(
		PlaceholderJobID, cc.JobID,
		PlaceholderExecutorID, cc.ExecutorID,
		PlaceholderChunkID, cc.ChunkID,
		PlaceholderChunk, cc.Value,
		PlaceholderExecutorDir, cc.ExecutorDir,
	)
}

func expand(templates []config.CommandConfig, r *strings.Replacer) []protocol.Command {
	commands := make([]protocol.Command, 0, len(templates))
	for _, t := range templates {
		cmd := protocol.Command{
			Command:     t.Command,
			WorkingPath: t.WorkingPath,
			Background:  t.Background,
		}
		if r != nil {
			cmd.Command = r.Replace(cmd.Command)
			cmd.WorkingPath = r.Replace(cmd.WorkingPath)
		}
		commands = append(commands, cmd)
	}
	return commands
}
