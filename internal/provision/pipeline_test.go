package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/meta"
	"github.com/starford/grandlibs/internal/storage"
)

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) ExitCode() int { return e.code }

// fakeRunner stands in for git and make. Cloning lays out a tiny upstream
// tree; make "compiles" src/demo.c by copying it to lib/libdemo.so so tests
// can see which extensions reached the artifact.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	checkout string

	head      string // overrides rev-parse output
	failClone bool
	failMake  bool
	noTarget  bool
}

func (r *fakeRunner) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))

	switch {
	case name == "git" && args[0] == "clone":
		if r.failClone {
			return []byte("fatal: repository not found"), exitError{128}
		}
		root := filepath.Join(dir, args[len(args)-1])
		files := map[string]string{
			"Makefile":            "all:\n",
			"share/data/DEMO.COF": "coefficients\n",
		}
		if !r.noTarget {
			files["src/demo.c"] = "int demo(void) { return 0; }\n"
		}
		for rel, content := range files {
			p := filepath.Join(root, rel)
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case name == "git" && args[0] == "checkout":
		r.checkout = args[len(args)-1]
		return nil, nil
	case name == "git" && args[0] == "rev-parse":
		if r.head != "" {
			return []byte(r.head + "\n"), nil
		}
		return []byte(r.checkout + "\n"), nil
	case name == "make":
		if r.failMake {
			return []byte("demo.c:1: error: expected ';'"), exitError{2}
		}
		src, err := os.ReadFile(filepath.Join(dir, "src", "demo.c"))
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Join(dir, "lib"), 0o755); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(filepath.Join(dir, "lib", "libdemo.so"), src, 0o755)
	}
	return nil, fmt.Errorf("unexpected command %s %v", name, args)
}

func (r *fakeRunner) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type memRecorder struct {
	attempts []Attempt
}

func (m *memRecorder) RecordAttempt(a Attempt) error {
	m.attempts = append(m.attempts, a)
	return nil
}

var demoRevision = strings.Repeat("ab", 20)

func demoDescriptor() Descriptor {
	return Descriptor{
		Name:     "demo",
		URL:      "https://example.invalid/demo",
		Revision: demoRevision,
		Extensions: []Extension{{
			Name:    "batch",
			Version: 1,
			Target:  "src/demo.c",
			Source:  []byte("void demo_v(void) {}\n"),
		}},
		Artifact:    "lib/libdemo.so",
		InstallName: "libdemo.so",
		Assets:      []Asset{{Source: "share/data/DEMO.COF", Dest: "demo/DEMO.COF"}},
	}
}

type env struct {
	lib, data *storage.FS
	store     *meta.Store
	runner    *fakeRunner
	rec       *memRecorder
	tmp       string
	pipeline  *Pipeline
}

func newEnv(t *testing.T) *env {
	t.Helper()
	lib, err := storage.OpenFS(filepath.Join(t.TempDir(), "lib"))
	if err != nil {
		t.Fatal(err)
	}
	data, err := storage.OpenFS(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		lib:    lib,
		data:   data,
		store:  meta.NewStore(lib),
		runner: &fakeRunner{},
		rec:    &memRecorder{},
		tmp:    t.TempDir(),
	}
	e.pipeline = New(lib, data, e.store,
		WithRunner(e.runner),
		WithRecorder(e.rec),
		WithTempDir(e.tmp),
		WithJobs(4),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return e
}

func assertWorkspaceGone(t *testing.T, e *env) {
	t.Helper()
	entries, err := os.ReadDir(e.tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace not removed: %v", entries)
	}
}

func TestEnsureInstalled_FreshInstall(t *testing.T) {
	e := newEnv(t)
	d := demoDescriptor()

	res, err := e.pipeline.EnsureInstalled(context.Background(), d)
	if err != nil {
		t.Fatalf("EnsureInstalled: %v", err)
	}
	if res.Skipped {
		t.Error("fresh install reported as skipped")
	}
	if res.Artifact != filepath.Join(e.lib.Root(), "libdemo.so") {
		t.Errorf("artifact = %s", res.Artifact)
	}

	artifact, err := e.lib.Read("libdemo.so")
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !strings.Contains(string(artifact), "void demo_v(void)") {
		t.Errorf("extension not built into artifact:\n%s", artifact)
	}
	if !strings.Contains(string(artifact), "/* >>> grandlibs batch v1 */") {
		t.Errorf("extension marker missing:\n%s", artifact)
	}

	if ok, _ := e.data.Exists("demo/DEMO.COF"); !ok {
		t.Error("asset not installed")
	}
	rev, _, _ := e.store.Get("demo", meta.KeyRevision)
	if rev != demoRevision {
		t.Errorf("record revision = %q", rev)
	}
	if got := e.runner.count("make -j4"); got != 1 {
		t.Errorf("make -j4 calls = %d", got)
	}
	assertWorkspaceGone(t, e)
}

func TestEnsureInstalled_Idempotent(t *testing.T) {
	e := newEnv(t)
	d := demoDescriptor()

	if _, err := e.pipeline.EnsureInstalled(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	before, _ := e.lib.Read("libdemo.so")

	res, err := e.pipeline.EnsureInstalled(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("second call should be a no-op")
	}
	if got := e.runner.count("git clone"); got != 1 {
		t.Errorf("clone ran %d times, want 1", got)
	}
	if got := e.runner.count("make"); got != 1 {
		t.Errorf("make ran %d times, want 1", got)
	}
	after, _ := e.lib.Read("libdemo.so")
	if string(before) != string(after) {
		t.Error("artifact changed on no-op call")
	}
}

func TestEnsureInstalled_MissingArtifactRebuilds(t *testing.T) {
	e := newEnv(t)
	d := demoDescriptor()
	if _, err := e.pipeline.EnsureInstalled(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	_ = e.lib.Remove("libdemo.so")

	res, err := e.pipeline.EnsureInstalled(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped {
		t.Error("missing artifact must trigger a rebuild")
	}
}

func TestReinstall_Forces(t *testing.T) {
	e := newEnv(t)
	d := demoDescriptor()
	_, _ = e.pipeline.EnsureInstalled(context.Background(), d)
	if _, err := e.pipeline.Reinstall(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	if got := e.runner.count("make"); got != 2 {
		t.Errorf("make ran %d times, want 2", got)
	}
}

func TestEnsureInstalled_BuildFailureKeepsPreviousInstall(t *testing.T) {
	e := newEnv(t)
	d := demoDescriptor()
	_ = e.lib.Write("libdemo.so", []byte("previous build"), 0o755)
	_ = e.store.SetAndPersist("demo", meta.KeyRevision, strings.Repeat("cd", 20))

	e.runner.failMake = true
	_, err := e.pipeline.EnsureInstalled(context.Background(), d)
	if !errors.Is(err, apperr.ErrBuild) {
		t.Fatalf("err = %v, want build error", err)
	}
	var be *apperr.BuildError
	if !errors.As(err, &be) || be.ExitCode != 2 {
		t.Fatalf("err = %#v, want exit code 2", err)
	}
	if !strings.Contains(err.Error(), "expected ';'") {
		t.Errorf("build output missing from error: %v", err)
	}

	got, _ := e.lib.Read("libdemo.so")
	if string(got) != "previous build" {
		t.Errorf("previous artifact replaced: %q", got)
	}
	rev, _, _ := e.store.Get("demo", meta.KeyRevision)
	if rev != strings.Repeat("cd", 20) {
		t.Errorf("record changed on failure: %q", rev)
	}
	assertWorkspaceGone(t, e)
}

func TestEnsureInstalled_FetchFailure(t *testing.T) {
	e := newEnv(t)
	e.runner.failClone = true

	_, err := e.pipeline.EnsureInstalled(context.Background(), demoDescriptor())
	if !errors.Is(err, apperr.ErrFetch) {
		t.Fatalf("err = %v, want fetch error", err)
	}
	if e.runner.count("make") != 0 {
		t.Error("make must not run after a failed fetch")
	}
	if ok, _ := e.lib.Exists("libdemo.so"); ok {
		t.Error("nothing may be installed after a failed fetch")
	}
	assertWorkspaceGone(t, e)
}

func TestEnsureInstalled_RevisionMismatch(t *testing.T) {
	e := newEnv(t)
	e.runner.head = strings.Repeat("ef", 20)

	_, err := e.pipeline.EnsureInstalled(context.Background(), demoDescriptor())
	var fe *apperr.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if !strings.Contains(err.Error(), "want "+demoRevision) {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestEnsureInstalled_PatchTargetMissing(t *testing.T) {
	e := newEnv(t)
	e.runner.noTarget = true

	_, err := e.pipeline.EnsureInstalled(context.Background(), demoDescriptor())
	if !errors.Is(err, apperr.ErrBuild) {
		t.Fatalf("err = %v, want build error", err)
	}
	if !strings.Contains(err.Error(), "batch v1") || !strings.Contains(err.Error(), "src/demo.c") {
		t.Errorf("error should name the extension and target: %v", err)
	}
}

func TestEnsureInstalled_ExistingAssetKept(t *testing.T) {
	e := newEnv(t)
	_ = e.data.Write("demo/DEMO.COF", []byte("local edit"), 0o644)

	res, err := e.pipeline.EnsureInstalled(context.Background(), demoDescriptor())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assets) != 0 {
		t.Errorf("assets copied = %v, want none", res.Assets)
	}
	got, _ := e.data.Read("demo/DEMO.COF")
	if string(got) != "local edit" {
		t.Errorf("existing asset overwritten: %q", got)
	}
}

func TestEnsureInstalled_RecordsAttempts(t *testing.T) {
	e := newEnv(t)
	d := demoDescriptor()
	_, _ = e.pipeline.EnsureInstalled(context.Background(), d)
	_, _ = e.pipeline.EnsureInstalled(context.Background(), d)
	e.runner.failMake = true
	_, _ = e.pipeline.Reinstall(context.Background(), d)

	want := []string{OutcomeInstalled, OutcomeSkipped, OutcomeFailed}
	if len(e.rec.attempts) != len(want) {
		t.Fatalf("attempts = %d, want %d", len(e.rec.attempts), len(want))
	}
	for i, a := range e.rec.attempts {
		if a.Outcome != want[i] {
			t.Errorf("attempt %d outcome = %s, want %s", i, a.Outcome, want[i])
		}
		if a.Patchset != d.Patchset() {
			t.Errorf("attempt %d patchset = %s", i, a.Patchset)
		}
	}
	if e.rec.attempts[2].Err == nil {
		t.Error("failed attempt should carry its error")
	}
}

func TestEnsureInstalled_InvalidDescriptor(t *testing.T) {
	e := newEnv(t)
	d := demoDescriptor()
	d.Revision = "main"
	if _, err := e.pipeline.EnsureInstalled(context.Background(), d); err == nil {
		t.Fatal("expected validation error for a branch name revision")
	}
	if len(e.runner.calls) != 0 {
		t.Error("no command may run for an invalid descriptor")
	}
}
