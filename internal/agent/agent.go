// Package agent runs external commands as role dispatchers. Each role
// is bound to one command; the change request arrives on stdin and the
// agent's environment names the role, the project root, and the
// artifacts directory it should write into.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quartet-sh/quartet/internal/config"
	"github.com/quartet-sh/quartet/role"
)

// Environment variables exposed to agent commands.
const (
	EnvRole         = "QUARTET_ROLE"
	EnvProjectRoot  = "QUARTET_PROJECT_ROOT"
	EnvArtifactsDir = "QUARTET_ARTIFACTS_DIR"
)

var _ role.Dispatcher = (*Dispatcher)(nil)

// Dispatcher executes one role's command.
type Dispatcher struct {
	role    role.Role
	command string
	args    []string
	logger  *slog.Logger
}

// New creates a dispatcher running command for r.
func New(r role.Role, command string, args []string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{role: r, command: command, args: args, logger: logger}
}

// NewTable builds the engine dispatch table from configured agent
// bindings. All four roles must be bound.
func NewTable(agents map[string]config.Agent, logger *slog.Logger) (role.Table, error) {
	get := func(r role.Role) role.Dispatcher {
		a, ok := agents[string(r)]
		if !ok || a.Command == "" {
			return nil
		}
		return New(r, a.Command, a.Args, logger)
	}
	return role.NewTable(get(role.Planner), get(role.Builder), get(role.Verifier), get(role.Reviewer))
}

// Execute runs the agent command and returns the relative paths of
// files it produced under the artifacts directory. The prompt is
// written to the command's stdin; combined output is saved as
// <role>.log next to the other artifacts.
func (d *Dispatcher) Execute(ctx context.Context, rc role.Context) ([]string, error) {
	start := time.Now()

	if rc.ArtifactsDir != "" {
		if err := os.MkdirAll(rc.ArtifactsDir, 0o755); err != nil {
			return nil, fmt.Errorf("agent %s: create artifacts dir: %w", d.role, err)
		}
	}

	before, err := snapshot(rc.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("agent %s: scan artifacts dir: %w", d.role, err)
	}

	cmd := exec.CommandContext(ctx, d.command, d.args...)
	if rc.ProjectRoot != "" {
		cmd.Dir = rc.ProjectRoot
	}
	cmd.Stdin = strings.NewReader(rc.Prompt)
	cmd.Env = append(os.Environ(),
		EnvRole+"="+string(d.role),
		EnvProjectRoot+"="+rc.ProjectRoot,
		EnvArtifactsDir+"="+rc.ArtifactsDir,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	d.logger.Debug("agent starting",
		slog.String("role", string(d.role)),
		slog.String("command", d.command),
	)

	runErr := cmd.Run()

	if rc.ArtifactsDir != "" && output.Len() > 0 {
		logPath := filepath.Join(rc.ArtifactsDir, string(d.role)+".log")
		if werr := os.WriteFile(logPath, output.Bytes(), 0o644); werr != nil {
			d.logger.Warn("failed to save agent output",
				slog.String("role", string(d.role)),
				slog.String("error", werr.Error()),
			)
		}
	}

	if runErr != nil {
		return nil, fmt.Errorf("agent %s: %s: %w", d.role, lastLine(output.Bytes()), runErr)
	}

	after, err := snapshot(rc.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("agent %s: scan artifacts dir: %w", d.role, err)
	}
	artifacts := diff(before, after)

	d.logger.Debug("agent finished",
		slog.String("role", string(d.role)),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("artifacts", len(artifacts)),
	)
	return artifacts, nil
}

// fileStamp identifies one version of a file without hashing it.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// snapshot records every file under dir with its size and mtime. An
// empty or missing dir yields an empty snapshot.
func snapshot(dir string) (map[string]fileStamp, error) {
	stamps := map[string]fileStamp{}
	if dir == "" {
		return stamps, nil
	}

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		stamps[rel] = fileStamp{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]fileStamp{}, nil
		}
		return nil, err
	}
	return stamps, nil
}

// diff returns the sorted relative paths of files new or changed
// between the two snapshots.
func diff(before, after map[string]fileStamp) []string {
	var artifacts []string
	for rel, stamp := range after {
		prev, existed := before[rel]
		if !existed || prev != stamp {
			artifacts = append(artifacts, rel)
		}
	}
	sort.Strings(artifacts)
	return artifacts
}

// lastLine returns the last non-empty output line, for error messages.
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "no output"
}
