package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unheard/unheard/internal/storage/git"
)

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&slog.LevelVar{})
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("unheard %v: %v\n%s", args, err, errOut.String())
	}
	return out.String()
}

func TestCLI(t *testing.T) {
	t.Setenv("UNHEARD_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	dir := filepath.Join(t.TempDir(), "proj")
	if err := os.Mkdir(dir, 0o750); err != nil {
		t.Fatal(err)
	}

	out := run(t, "", "init", dir)
	var res struct {
		Success    bool   `json:"success"`
		CommitHash string `json:"commitHash"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("init output %q: %v", out, err)
	}
	if !res.Success {
		t.Errorf("init = %s", out)
	}

	if got := strings.TrimSpace(run(t, "# Pick a market", "decision", dir, "market.md", "-")); got != "decisions/market.md" {
		t.Errorf("decision = %q", got)
	}
	if got := strings.TrimSpace(run(t, "a: 1\n", "experiment", dir, "e.yaml", "-")); got != "experiments/e.yaml" {
		t.Errorf("experiment = %q", got)
	}
	batch := `[{"object_type":"person","filename":"ada","json_content":"{}"},{"object_type":"company","filename":"acme","json_content":"{}"}]`
	run(t, batch, "attio", "batch", dir, "-")

	var history []git.Commit
	if err := json.Unmarshal([]byte(run(t, "", "log", dir, "-n", "10")), &history); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range history {
		got = append(got, c.Message)
	}
	want := []string{"Import 2 Attio records", "[unheard] Add experiment config: e.yaml", "Create decision: market.md", "Initial commit: Set up project structure"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("history = %q\nwant %q", got, want)
	}
}

func TestCLIErrors(t *testing.T) {
	t.Setenv("UNHEARD_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	for _, args := range [][]string{
		{"init"},
		{"--backend", "svn", "files", t.TempDir()},
		{"--log-level", "loud", "files", t.TempDir()},
		{"commit", t.TempDir(), "a.txt"},
	} {
		cmd := newRootCmd(&slog.LevelVar{})
		cmd.SetArgs(args)
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		if err := cmd.ExecuteContext(t.Context()); err == nil {
			t.Errorf("unheard %v succeeded", args)
		}
	}
}

func TestReplaceAttr(t *testing.T) {
	t.Parallel()
	ts := slog.Time(slog.TimeKey, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if got := replaceAttr(false)(nil, ts); got.Key != slog.TimeKey {
		t.Errorf("time dropped outside systemd: %v", got)
	}
	if got := replaceAttr(true)(nil, ts); !got.Equal(slog.Attr{}) {
		t.Errorf("time kept under systemd: %v", got)
	}
	if got := replaceAttr(true)([]string{"g"}, ts); got.Key != slog.TimeKey {
		t.Errorf("grouped time attribute dropped: %v", got)
	}
	for _, a := range []slog.Attr{slog.String("s", ""), slog.Bool("b", false), slog.Int64("n", 0), slog.Duration("d", 0)} {
		if got := replaceAttr(false)(nil, a); !got.Equal(slog.Attr{}) {
			t.Errorf("zero attribute %v kept", a)
		}
	}
	if got := replaceAttr(false)(nil, slog.String("s", "x")); got.Key != "s" {
		t.Errorf("non-zero attribute dropped: %v", got)
	}
}
