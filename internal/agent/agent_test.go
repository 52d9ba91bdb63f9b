package agent_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/quartet-sh/quartet"
	"github.com/quartet-sh/quartet/internal/agent"
	"github.com/quartet-sh/quartet/internal/config"
	"github.com/quartet-sh/quartet/role"
)

func requireSh(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("agent tests shell out to sh")
	}
}

// shAgent wraps a shell script as a role dispatcher.
func shAgent(r role.Role, script string) *agent.Dispatcher {
	return agent.New(r, "sh", []string{"-c", script}, nil)
}

func TestDispatcher_CollectsNewArtifacts(t *testing.T) {
	requireSh(t)

	rc := role.Context{
		ArtifactsDir: t.TempDir(),
		Prompt:       "add retry logic",
	}

	d := shAgent(role.Planner, `echo "plan ready" > "$QUARTET_ARTIFACTS_DIR/plan.md"`)
	artifacts, err := d.Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0] != "plan.md" {
		t.Fatalf("artifacts = %v, want [plan.md]", artifacts)
	}

	data, err := os.ReadFile(filepath.Join(rc.ArtifactsDir, "plan.md"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if strings.TrimSpace(string(data)) != "plan ready" {
		t.Errorf("artifact content = %q", data)
	}
}

func TestDispatcher_IgnoresPriorRolesArtifacts(t *testing.T) {
	requireSh(t)

	rc := role.Context{ArtifactsDir: t.TempDir()}
	if err := os.WriteFile(filepath.Join(rc.ArtifactsDir, "plan.md"), []byte("earlier step"), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	d := shAgent(role.Builder, `echo done > "$QUARTET_ARTIFACTS_DIR/build.diff"`)
	artifacts, err := d.Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0] != "build.diff" {
		t.Errorf("artifacts = %v, want [build.diff]", artifacts)
	}
}

func TestDispatcher_PromptOnStdin(t *testing.T) {
	requireSh(t)

	rc := role.Context{
		ArtifactsDir: t.TempDir(),
		Prompt:       "rename the widget",
	}

	d := shAgent(role.Planner, `cat > "$QUARTET_ARTIFACTS_DIR/prompt.txt"`)
	if _, err := d.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(rc.ArtifactsDir, "prompt.txt"))
	if err != nil {
		t.Fatalf("read prompt: %v", err)
	}
	if string(data) != "rename the widget" {
		t.Errorf("prompt = %q", data)
	}
}

func TestDispatcher_EnvNamesRole(t *testing.T) {
	requireSh(t)

	rc := role.Context{ArtifactsDir: t.TempDir(), ProjectRoot: t.TempDir()}

	d := shAgent(role.Verifier, `printf '%s' "$QUARTET_ROLE" > "$QUARTET_ARTIFACTS_DIR/role.txt"`)
	if _, err := d.Execute(context.Background(), rc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(rc.ArtifactsDir, "role.txt"))
	if err != nil {
		t.Fatalf("read role: %v", err)
	}
	if string(data) != "verifier" {
		t.Errorf("role = %q, want verifier", data)
	}
}

func TestDispatcher_FailureSurfacesLastOutputLine(t *testing.T) {
	requireSh(t)

	rc := role.Context{ArtifactsDir: t.TempDir()}

	d := shAgent(role.Verifier, `echo "checking style"; echo "lint failed" >&2; exit 1`)
	_, err := d.Execute(context.Background(), rc)
	if err == nil {
		t.Fatal("Execute succeeded, want failure")
	}
	if !strings.Contains(err.Error(), "lint failed") {
		t.Errorf("err = %v, want message containing %q", err, "lint failed")
	}

	// The combined output is kept for post-mortems even on failure.
	data, err := os.ReadFile(filepath.Join(rc.ArtifactsDir, "verifier.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "checking style") {
		t.Errorf("log = %q", data)
	}
}

func TestDispatcher_ContextCancellation(t *testing.T) {
	requireSh(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := shAgent(role.Builder, `sleep 30`)
	_, err := d.Execute(ctx, role.Context{ArtifactsDir: t.TempDir()})
	if err == nil {
		t.Fatal("Execute ignored cancelled context")
	}
}

func TestNewTable_BindsAllRoles(t *testing.T) {
	agents := map[string]config.Agent{
		"planner":  {Command: "plan-agent"},
		"builder":  {Command: "build-agent"},
		"verifier": {Command: "verify-agent", Args: []string{"--strict"}},
		"reviewer": {Command: "review-agent"},
	}

	table, err := agent.NewTable(agents, nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	for _, r := range role.All() {
		if _, err := table.Dispatcher(r); err != nil {
			t.Errorf("no dispatcher for %q: %v", r, err)
		}
	}
	if _, err := table.Dispatcher(role.Role("deployer")); !errors.Is(err, quartet.ErrUnknownRole) {
		t.Errorf("err = %v, want ErrUnknownRole", err)
	}
}

func TestNewTable_MissingRole(t *testing.T) {
	agents := map[string]config.Agent{
		"planner": {Command: "plan-agent"},
	}

	if _, err := agent.NewTable(agents, nil); err == nil {
		t.Fatal("NewTable accepted an incomplete binding")
	}
}
