package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unheard/unheard/internal/contextfile"
	errs "github.com/unheard/unheard/internal/errors"
	"github.com/unheard/unheard/internal/project"
	"github.com/unheard/unheard/internal/storage/git"
)

// newProject bootstraps a project backed by go-git.
func newProject(t *testing.T) (string, *Ingester, git.Repository) {
	t.Helper()
	ctx := t.Context()
	dir := t.TempDir()
	mgr := git.NewManager(git.BackendGoGit, git.Identity{})
	if _, err := project.Bootstrap(ctx, mgr, dir); err != nil {
		t.Fatalf("Bootstrap() failed: %v", err)
	}
	repo, err := mgr.Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	return repo.Root(), New(mgr, nil), repo
}

// memOpener always returns the same in-memory repository.
type memOpener struct {
	repo *git.MemRepo
}

func (o memOpener) Open(context.Context, string) (git.Repository, error) {
	return o.repo, nil
}

// failingProject returns a project whose store fails at phase once the
// initial commit exists.
func failingProject(t *testing.T, phase git.Phase) (string, *Ingester, *git.MemRepo) {
	t.Helper()
	dir := t.TempDir()
	repo := git.NewMemRepo(dir)
	if _, err := project.Bootstrap(t.Context(), memInitializer{repo}, dir); err != nil {
		t.Fatal(err)
	}
	repo.Fail(phase, errors.New("store unavailable"))
	return dir, New(memOpener{repo}, nil), repo
}

type memInitializer struct {
	repo *git.MemRepo
}

func (m memInitializer) Init(context.Context, string) (git.Repository, error) {
	return m.repo, nil
}

func headCommit(t *testing.T, repo git.Repository) *git.Commit {
	t.Helper()
	history, err := repo.Log(t.Context(), 1)
	if err != nil || len(history) != 1 {
		t.Fatalf("Log() = %v, %v", history, err)
	}
	return history[0]
}

func assertFile(t *testing.T, root, rel, want string) {
	t.Helper()
	got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("%s: %v", rel, err)
	}
	if string(got) != want {
		t.Errorf("%s = %q, want %q", rel, got, want)
	}
}

func TestAttio(t *testing.T) {
	t.Parallel()

	t.Run("Single", func(t *testing.T) {
		t.Parallel()
		root, in, repo := newProject(t)
		rel, err := in.SaveAttioRecord(t.Context(), root, AttioRecord{ObjectType: "company", RecordID: "r1", Filename: "acme-corp", JSON: `{"name":"Acme"}`})
		if err != nil {
			t.Fatalf("SaveAttioRecord() failed: %v", err)
		}
		if rel != "attio/company/acme-corp.json" {
			t.Errorf("rel = %q", rel)
		}
		assertFile(t, root, rel, `{"name":"Acme"}`)
		if c := headCommit(t, repo); c.Message != "Import Attio company: acme-corp" {
			t.Errorf("message = %q", c.Message)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		for _, rec := range []AttioRecord{
			{ObjectType: "deal", Filename: "x", JSON: "{}"},
			{ObjectType: "person", Filename: " ", JSON: "{}"},
			{ObjectType: "person", Filename: "../escape", JSON: "{}"},
			{ObjectType: "person", Filename: "x", JSON: "  "},
			{ObjectType: "person", Filename: "x", JSON: "{not json"},
		} {
			if _, err := in.SaveAttioRecord(t.Context(), root, rec); !errors.Is(err, errs.InvalidArgument) {
				t.Errorf("%+v: expected InvalidArgument, got %v", rec, err)
			}
		}
		if _, err := os.Stat(filepath.Join(root, AttioDir)); !os.IsNotExist(err) {
			t.Error("attio directory created despite validation errors")
		}
	})

	t.Run("BatchSingleCommit", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		root, in, repo := newProject(t)
		before := headCommit(t, repo)
		recs := []AttioRecord{
			{ObjectType: "company", Filename: "acme", JSON: `{"a":1}`},
			{ObjectType: "person", Filename: "ada", JSON: `{"b":2}`},
			{ObjectType: "list_entry", Filename: "e1", JSON: `{"c":3}`},
		}
		paths, err := in.SaveAttioBatch(ctx, root, recs)
		if err != nil {
			t.Fatalf("SaveAttioBatch() failed: %v", err)
		}
		want := []string{"attio/company/acme.json", "attio/person/ada.json", "attio/list_entry/e1.json"}
		if strings.Join(paths, ",") != strings.Join(want, ",") {
			t.Errorf("paths = %v", paths)
		}
		history, err := repo.Log(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 2 {
			t.Fatalf("expected exactly one new commit, got %d commits", len(history))
		}
		c := history[0]
		if c.Message != "Import 3 Attio records" || len(c.Parents) != 1 || c.Parents[0] != before.Hash {
			t.Errorf("unexpected batch commit %+v", c)
		}
		for _, p := range want {
			if _, err := repo.FileAtCommit(ctx, c.Hash, p); err != nil {
				t.Errorf("%s not committed: %v", p, err)
			}
		}
	})

	t.Run("BatchValidatesFirst", func(t *testing.T) {
		t.Parallel()
		root, in, repo := newProject(t)
		before := headCommit(t, repo)
		recs := []AttioRecord{
			{ObjectType: "company", Filename: "acme", JSON: `{}`},
			{ObjectType: "company", Filename: "", JSON: `{}`},
			{ObjectType: "person", Filename: "ada", JSON: `{}`},
		}
		_, err := in.SaveAttioBatch(t.Context(), root, recs)
		if !errors.Is(err, errs.InvalidArgument) {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
		if !strings.HasPrefix(err.Error(), "Entry 1: ") {
			t.Errorf("error does not name the entry: %v", err)
		}
		var e *errs.Error
		if !errors.As(err, &e) || e.Details()["index"] != 1 {
			t.Errorf("index detail missing: %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, AttioDir)); !os.IsNotExist(err) {
			t.Error("files written despite invalid entry")
		}
		if c := headCommit(t, repo); c.Hash != before.Hash {
			t.Error("HEAD moved")
		}
	})

	t.Run("BatchEmpty", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		if _, err := in.SaveAttioBatch(t.Context(), root, nil); !errors.Is(err, errs.InvalidArgument) {
			t.Errorf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("CommitFailureIsNotFatal", func(t *testing.T) {
		t.Parallel()
		root, in, _ := failingProject(t, git.PhaseCommit)
		rel, err := in.SaveAttioRecord(t.Context(), root, AttioRecord{ObjectType: "person", Filename: "ada", JSON: `{}`})
		if err != nil {
			t.Fatalf("commit failure leaked: %v", err)
		}
		assertFile(t, root, rel, `{}`)

		paths, err := in.SaveAttioBatch(t.Context(), root, []AttioRecord{
			{ObjectType: "person", Filename: "bob", JSON: `{}`},
			{ObjectType: "company", Filename: "acme", JSON: `{}`},
		})
		if err != nil {
			t.Fatalf("commit failure leaked: %v", err)
		}
		if len(paths) != 2 {
			t.Errorf("paths = %v", paths)
		}
		for _, p := range paths {
			assertFile(t, root, p, `{}`)
		}
	})

	t.Run("MissingRepositoryIsNotFatal", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		in := New(git.NewManager(git.BackendGoGit, git.Identity{}), nil)
		rel, err := in.SaveAttioRecord(t.Context(), root, AttioRecord{ObjectType: "person", Filename: "ada", JSON: `{}`})
		if err != nil {
			t.Fatalf("SaveAttioRecord() failed: %v", err)
		}
		assertFile(t, root, rel, `{}`)
	})
}

func TestCreateDecision(t *testing.T) {
	t.Parallel()

	t.Run("Commits", func(t *testing.T) {
		t.Parallel()
		root, in, repo := newProject(t)
		content := "---\ntitle: Hire\nstatus: accepted\n---\n# Hire a designer\n"
		rel, err := in.CreateDecision(t.Context(), root, "2026-02-04-hire.md", content)
		if err != nil {
			t.Fatalf("CreateDecision() failed: %v", err)
		}
		if rel != "decisions/2026-02-04-hire.md" {
			t.Errorf("rel = %q", rel)
		}
		assertFile(t, root, rel, content)
		if c := headCommit(t, repo); c.Message != "Create decision: 2026-02-04-hire.md" {
			t.Errorf("message = %q", c.Message)
		}
	})

	t.Run("CreatesDirectory", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		if err := os.RemoveAll(filepath.Join(root, project.DecisionsDir)); err != nil {
			t.Fatal(err)
		}
		if _, err := in.CreateDecision(t.Context(), root, "a.md", "# A"); err != nil {
			t.Fatal(err)
		}
		assertFile(t, root, "decisions/a.md", "# A")
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		tests := []struct{ name, content string }{
			{"a.md", "  "},
			{"", "# A"},
			{"a.txt", "# A"},
			{"a.md", "---\ntitle: [unclosed\n---\nbody"},
			{"a.md", "---\ntitle: x\nno end"},
		}
		for _, tt := range tests {
			if _, err := in.CreateDecision(t.Context(), root, tt.name, tt.content); !errors.Is(err, errs.InvalidArgument) {
				t.Errorf("CreateDecision(%q, %q) = %v, want InvalidArgument", tt.name, tt.content, err)
			}
		}
	})

	t.Run("CommitFailureIsNotFatal", func(t *testing.T) {
		t.Parallel()
		root, in, _ := failingProject(t, git.PhaseTree)
		rel, err := in.CreateDecision(t.Context(), root, "a.md", "# A")
		if err != nil {
			t.Fatalf("commit failure leaked: %v", err)
		}
		assertFile(t, root, rel, "# A")
	})
}

func TestWriteExperiment(t *testing.T) {
	t.Parallel()

	t.Run("NameCollision", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		root, in, repo := newProject(t)
		var got []string
		for i := range 3 {
			content := "metadata:\n  run: " + string(rune('a'+i)) + "\n"
			rel, err := in.WriteExperiment(ctx, root, "2026-02-06-seed.yaml", content)
			if err != nil {
				t.Fatalf("WriteExperiment() #%d failed: %v", i, err)
			}
			got = append(got, rel)
		}
		want := []string{"experiments/2026-02-06-seed.yaml", "experiments/2026-02-06-seed-2.yaml", "experiments/2026-02-06-seed-3.yaml"}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("paths = %v, want %v", got, want)
		}
		assertFile(t, root, want[0], "metadata:\n  run: a\n")
		assertFile(t, root, want[1], "metadata:\n  run: b\n")
		assertFile(t, root, want[2], "metadata:\n  run: c\n")
		if c := headCommit(t, repo); c.Message != "[unheard] Add experiment config: 2026-02-06-seed-3.yaml" {
			t.Errorf("message = %q", c.Message)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		tests := []struct{ name, content string }{
			{"a.yaml", ""},
			{"a.yml", "a: 1"},
			{"", "a: 1"},
			{"a.yaml", "a: [1, 2"},
		}
		for _, tt := range tests {
			if _, err := in.WriteExperiment(t.Context(), root, tt.name, tt.content); !errors.Is(err, errs.InvalidArgument) {
				t.Errorf("WriteExperiment(%q, %q) = %v, want InvalidArgument", tt.name, tt.content, err)
			}
		}
	})

	t.Run("CommitFailureIsNotFatal", func(t *testing.T) {
		t.Parallel()
		root, in, _ := failingProject(t, git.PhaseStage)
		rel, err := in.WriteExperiment(t.Context(), root, "x.yaml", "a: 1")
		if err != nil {
			t.Fatalf("commit failure leaked: %v", err)
		}
		assertFile(t, root, rel, "a: 1")
	})
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestUpload(t *testing.T) {
	t.Parallel()

	t.Run("Success", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		root, in, repo := newProject(t)
		src := writeSource(t, "Q3 Sales.csv", "date,revenue\n2026-01-01,100\n")
		events := make(chan Event, 16)

		rec, err := in.Upload(ctx, root, src, NewChannelObserver(events))
		if err != nil {
			t.Fatalf("Upload() failed: %v", err)
		}
		if rec.RelativePath != "context/q3-sales.csv" || rec.DetectedType != "sales_data" {
			t.Errorf("unexpected record %+v", rec)
		}
		assertFile(t, root, rec.RelativePath, "date,revenue\n2026-01-01,100\n")

		var got []string
		for _, e := range drain(events) {
			got = append(got, fmt.Sprintf("%s:%d", e.Type, e.Percent))
		}
		want := "parsing:10 parsing:50 copying:60 copying:80 committing:90 complete:100"
		if strings.Join(got, " ") != want {
			t.Errorf("events = %v, want %s", got, want)
		}

		c := headCommit(t, repo)
		if c.Message != "Add context file: Q3 Sales.csv" {
			t.Errorf("subject = %q", c.Message)
		}
		if c.Body != "File type: csv\nSize: 28 bytes" {
			t.Errorf("body = %q", c.Body)
		}
		if len(c.Parents) != 1 {
			t.Errorf("parents = %v", c.Parents)
		}
	})

	t.Run("CommitFailureIsFatal", func(t *testing.T) {
		t.Parallel()
		root, in, _ := failingProject(t, git.PhaseCommit)
		src := writeSource(t, "data.csv", "a,b\n1,2\n")
		events := make(chan Event, 16)

		rec, err := in.Upload(t.Context(), root, src, NewChannelObserver(events))
		if !errors.Is(err, errs.CommitFailed) {
			t.Fatalf("expected CommitFailed, got %v", err)
		}
		if rec != nil {
			t.Errorf("expected no record, got %+v", rec)
		}
		got := drain(events)
		for _, e := range got {
			if e.Type == EventComplete {
				t.Error("Complete emitted despite commit failure")
			}
		}
		if len(got) == 0 || got[len(got)-1].Type != EventError {
			t.Errorf("expected trailing error event, got %v", got)
		}
		// The copy is not rolled back.
		assertFile(t, root, "context/data.csv", "a,b\n1,2\n")
	})

	t.Run("DestinationConflict", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		src := writeSource(t, "data.csv", "a\n1\n")
		if _, err := in.Upload(t.Context(), root, src, nil); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(src, []byte("a\n2\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := in.Upload(t.Context(), root, src, nil); !errors.Is(err, errs.DestinationConflict) {
			t.Fatalf("expected DestinationConflict, got %v", err)
		}
		assertFile(t, root, "context/data.csv", "a\n1\n")
	})

	t.Run("MissingContextDir", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		if err := os.RemoveAll(filepath.Join(root, contextfile.Dir)); err != nil {
			t.Fatal(err)
		}
		_, err := in.Upload(t.Context(), root, writeSource(t, "a.csv", "a\n"), nil)
		if !errors.Is(err, errs.NotFound) {
			t.Errorf("expected NotFound, got %v", err)
		}
	})

	t.Run("SourceErrors", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		if _, err := in.Upload(t.Context(), root, filepath.Join(t.TempDir(), "gone.csv"), nil); !errors.Is(err, errs.NotFound) {
			t.Errorf("expected NotFound, got %v", err)
		}
		if _, err := in.Upload(t.Context(), root, writeSource(t, "notes.txt", "x"), nil); !errors.Is(err, errs.InvalidArgument) {
			t.Errorf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("RequiresInitialCommit", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		root := t.TempDir()
		mgr := git.NewManager(git.BackendGoGit, git.Identity{})
		if _, err := mgr.Init(ctx, root); err != nil {
			t.Fatal(err)
		}
		if err := os.Mkdir(filepath.Join(root, contextfile.Dir), 0o750); err != nil {
			t.Fatal(err)
		}
		_, err := New(mgr, nil).Upload(ctx, root, writeSource(t, "a.csv", "a\n"), nil)
		if !errors.Is(err, errs.CommitFailed) {
			t.Errorf("expected CommitFailed, got %v", err)
		}
	})

	t.Run("Async", func(t *testing.T) {
		t.Parallel()
		root, in, _ := newProject(t)
		res := <-in.UploadAsync(t.Context(), root, writeSource(t, "a.csv", "a\n"), nil)
		if res.Err != nil || res.ID == "" || res.Record == nil {
			t.Errorf("unexpected result %+v", res)
		}
	})
}

func TestWatch(t *testing.T) {
	t.Parallel()
	root, in, repo := newProject(t)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- in.Watch(ctx, root, 50*time.Millisecond) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "decisions", "manual.md"), []byte("# edited by hand"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("outside"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		// The watcher commits concurrently; a failed read is retried.
		history, err := repo.Log(t.Context(), 1)
		if err != nil || len(history) == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if c := history[0]; c.Message == "[unheard] Sync 1 files" {
			if _, err := repo.FileAtCommit(t.Context(), c.Hash, "decisions/manual.md"); err != nil {
				t.Errorf("synced file missing: %v", err)
			}
			if _, err := repo.FileAtCommit(t.Context(), c.Hash, "notes.txt"); err == nil {
				t.Error("file outside watched directories was committed")
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher did not commit the new file")
}

func TestWatchedPath(t *testing.T) {
	t.Parallel()
	root := filepath.Join("/", "p")
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{filepath.Join(root, "context", "a.csv"), "context/a.csv", true},
		{filepath.Join(root, "attio", "person", "a.json"), "attio/person/a.json", true},
		{filepath.Join(root, "README.md"), "", false},
		{filepath.Join(root, "context", ".a.csv.swp"), "", false},
		{filepath.Join(root, ".git", "index"), "", false},
	}
	for _, tt := range tests {
		got, ok := watchedPath(root, tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("watchedPath(%q) = %q, %v", tt.name, got, ok)
		}
	}
}
