package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taigalab/taigactl/internal/controller"
	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

func runCapture(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFileConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunStubSuccessExitCode(t *testing.T) {
	testlog.Start(t)

	code, _, stderr := runCapture(t, "-years", "3")
	if code != exitSuccess {
		t.Fatalf("expected exit %d, got %d (stderr=%s)", exitSuccess, code, stderr)
	}
}

func TestRunNegativeYearsExitCode(t *testing.T) {
	testlog.Start(t)

	code, _, _ := runCapture(t, "-years", "-2")
	if code != exitInvalidRequest {
		t.Fatalf("expected exit %d, got %d", exitInvalidRequest, code)
	}
}

func TestRunRejectsBadOverrideArg(t *testing.T) {
	testlog.Start(t)

	code, _, stderr := runCapture(t, "-years", "1", "warming-without-value")
	if code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr, "not key=value") {
		t.Fatalf("unexpected stderr: %s", stderr)
	}
}

func TestRunMissingProjectFile(t *testing.T) {
	testlog.Start(t)

	code, _, stderr := runCapture(t, "-project", filepath.Join(t.TempDir(), "absent.toml"))
	if code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr, "project file") {
		t.Fatalf("unexpected stderr: %s", stderr)
	}
}

func TestRunUnknownEngineKind(t *testing.T) {
	testlog.Start(t)

	code, _, stderr := runCapture(t, "-engine", "engine.warp")
	if code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr, "unknown engine kind") {
		t.Fatalf("unexpected stderr: %s", stderr)
	}
}

func TestRunProcLaunchFailureExitCode(t *testing.T) {
	testlog.Start(t)

	path := writeFileConfig(t, `[engine]
kind = "engine.proc"

[engine.proc]
command = "taigactl-no-such-child-binary"
`)
	code, _, _ := runCapture(t, "-config", path, "-years", "1")
	if code != exitEngineError {
		t.Fatalf("expected exit %d, got %d", exitEngineError, code)
	}
}

func TestRunHistoryAcrossInvocations(t *testing.T) {
	testlog.Start(t)

	dbPath := filepath.Join(t.TempDir(), "runs.db")
	path := writeFileConfig(t, `years = 3

[store]
backend = "sqlite"
path = "`+dbPath+`"
`)

	code, _, stderr := runCapture(t, "-config", path)
	if code != exitSuccess {
		t.Fatalf("run exit %d (stderr=%s)", code, stderr)
	}

	code, stdout, stderr := runCapture(t, "-config", path, "-history", "5")
	if code != exitSuccess {
		t.Fatalf("history exit %d (stderr=%s)", code, stderr)
	}
	if !strings.Contains(stdout, "engine=engine.stub") || !strings.Contains(stdout, "success") {
		t.Fatalf("unexpected history output: %s", stdout)
	}
	if !strings.Contains(stdout, "years=3") {
		t.Fatalf("history missing years: %s", stdout)
	}
}

func TestRunHistoryWithoutStore(t *testing.T) {
	testlog.Start(t)

	code, _, stderr := runCapture(t, "-history", "5")
	if code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr, "history requires a configured store") {
		t.Fatalf("unexpected stderr: %s", stderr)
	}
}

func TestParseOverrideArgs(t *testing.T) {
	overrides, err := parseOverrideArgs([]string{"climate.warming=2.4", "soil.depth=1m=deep"})
	if err != nil {
		t.Fatalf("parse overrides: %v", err)
	}
	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(overrides))
	}
	if overrides[0].Key != "climate.warming" || overrides[0].Value != "2.4" {
		t.Fatalf("unexpected first override: %+v", overrides[0])
	}
	if overrides[1].Value != "1m=deep" {
		t.Fatalf("expected value to keep later equals signs: %+v", overrides[1])
	}

	if _, err := parseOverrideArgs([]string{"=value"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		kind controller.OutcomeKind
		want int
	}{
		{controller.OutcomeSuccess, exitSuccess},
		{controller.OutcomeInvalidRequest, exitInvalidRequest},
		{controller.OutcomeEngineError, exitEngineError},
		{controller.OutcomePanic, exitPanic},
	}
	for _, tc := range cases {
		if got := exitCode(controller.Outcome{Kind: tc.kind}); got != tc.want {
			t.Fatalf("outcome %s mapped to %d, want %d", tc.kind, got, tc.want)
		}
	}
}
