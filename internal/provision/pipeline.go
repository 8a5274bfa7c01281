// Package provision builds pinned native libraries from source and installs
// them, together with their data assets, into a shared install tree.
//
// EnsureInstalled is idempotent: when the install record already names the
// pinned revision it returns without touching the network or the tree.
// Otherwise it clones the revision into an ephemeral workspace, appends the
// local extension sources, runs make, and places the artifact with an atomic
// rename before updating the record. A crash at any point leaves either the
// previous install with its previous record, or the new artifact with the
// old record (which only causes a redundant rebuild next time).
//
// The install tree is shared, process-wide state without locking. Callers
// that provision the same library from several processes must serialize
// them externally.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/meta"
	"github.com/starford/grandlibs/internal/storage"
)

// Attempt outcomes reported to a Recorder.
const (
	OutcomeSkipped   = "skipped"
	OutcomeInstalled = "installed"
	OutcomeFailed    = "failed"
)

// Attempt describes one EnsureInstalled call.
type Attempt struct {
	Library   string
	Revision  string
	Patchset  string
	Outcome   string
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder receives every provisioning attempt.
type Recorder interface {
	RecordAttempt(a Attempt) error
}

// Result summarizes a successful EnsureInstalled call.
type Result struct {
	Library  string
	Revision string
	Skipped  bool
	// Artifact is the absolute path of the installed shared object.
	Artifact string
	// Assets lists the data files copied by this call.
	Assets   []string
	Duration time.Duration
}

// Pipeline provisions libraries into one install tree.
type Pipeline struct {
	lib    storage.Provider
	data   storage.Provider
	meta   *meta.Store
	runner Runner
	rec    Recorder
	logger *slog.Logger
	jobs   int
	tmpDir string
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunner replaces the host process runner.
func WithRunner(r Runner) Option {
	return func(p *Pipeline) { p.runner = r }
}

// WithRecorder reports every attempt to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.rec = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithJobs sets the make parallelism; values below 1 leave make's default.
func WithJobs(n int) Option {
	return func(p *Pipeline) { p.jobs = n }
}

// WithTempDir sets the parent of ephemeral workspaces.
func WithTempDir(dir string) Option {
	return func(p *Pipeline) { p.tmpDir = dir }
}

// New creates a pipeline installing shared objects into lib and data assets
// into data, with records kept in store.
func New(lib, data storage.Provider, store *meta.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		lib:    lib,
		data:   data,
		meta:   store,
		runner: ExecRunner{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ArtifactPath returns where the shared object of d is installed.
func (p *Pipeline) ArtifactPath(d Descriptor) string {
	return p.lib.Root() + string(os.PathSeparator) + d.InstallName
}

// DataDir returns the root of the data asset tree.
func (p *Pipeline) DataDir() string {
	return p.data.Root()
}

// UpToDate reports whether d is installed at its pinned revision.
func (p *Pipeline) UpToDate(d Descriptor) (bool, error) {
	rev, _, err := p.meta.Get(d.Name, meta.KeyRevision)
	if err != nil {
		return false, err
	}
	if rev != d.Revision {
		return false, nil
	}
	return p.lib.Exists(d.InstallName)
}

// EnsureInstalled installs d unless its pinned revision is already in place.
func (p *Pipeline) EnsureInstalled(ctx context.Context, d Descriptor) (*Result, error) {
	return p.run(ctx, d, false)
}

// Reinstall rebuilds d even if the record says it is current.
func (p *Pipeline) Reinstall(ctx context.Context, d Descriptor) (*Result, error) {
	return p.run(ctx, d, true)
}

func (p *Pipeline) run(ctx context.Context, d Descriptor, force bool) (res *Result, err error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("provision: invalid descriptor %q: %w", d.Name, err)
	}

	start := p.now()
	attempt := Attempt{
		Library:   d.Name,
		Revision:  d.Revision,
		Patchset:  d.Patchset(),
		StartedAt: start,
	}
	defer func() {
		attempt.Duration = p.now().Sub(start)
		switch {
		case err != nil:
			attempt.Outcome = OutcomeFailed
			attempt.Err = err
		case res.Skipped:
			attempt.Outcome = OutcomeSkipped
		default:
			attempt.Outcome = OutcomeInstalled
		}
		if res != nil {
			res.Duration = attempt.Duration
		}
		p.record(attempt)
	}()

	logger := p.logger.With(slog.String("library", d.Name), slog.String("revision", d.Revision))

	if !force {
		ok, err := p.UpToDate(d)
		if err != nil {
			return nil, fmt.Errorf("provision %s: read install record: %w", d.Name, err)
		}
		if ok {
			logger.Debug("provision: up to date")
			return &Result{Library: d.Name, Revision: d.Revision, Skipped: true, Artifact: p.ArtifactPath(d)}, nil
		}
	}

	logger.Info("provision: building")

	var assets []string
	err = p.withWorkspace(func(workdir string) error {
		src, err := p.fetch(ctx, d, workdir)
		if err != nil {
			return err
		}
		if err := applyExtensions(src, d, logger); err != nil {
			return err
		}
		if err := p.build(ctx, d, src); err != nil {
			return err
		}
		if err := p.installArtifact(d, src); err != nil {
			return err
		}
		assets, err = p.installAssets(d, src)
		return err
	})
	if err != nil {
		logger.Error("provision: failed", slog.String("error", err.Error()))
		return nil, err
	}

	if err := p.meta.Update(d.Name, map[string]string{
		meta.KeyRevision:    d.Revision,
		meta.KeyPatchset:    attempt.Patchset,
		meta.KeyInstalledAt: p.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("provision %s: update install record: %w", d.Name, err)
	}

	logger.Info("provision: installed", slog.String("artifact", p.ArtifactPath(d)), slog.Int("assets", len(assets)))
	return &Result{
		Library:  d.Name,
		Revision: d.Revision,
		Artifact: p.ArtifactPath(d),
		Assets:   assets,
	}, nil
}

// withWorkspace runs fn in a fresh temporary directory that is removed on
// every exit path.
func (p *Pipeline) withWorkspace(fn func(dir string) error) error {
	dir, err := os.MkdirTemp(p.tmpDir, "grandlibs-")
	if err != nil {
		return fmt.Errorf("provision: create workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger.Warn("provision: workspace cleanup failed", slog.String("dir", dir), slog.String("error", rmErr.Error()))
		}
	}()
	return fn(dir)
}

func (p *Pipeline) build(ctx context.Context, d Descriptor, src string) error {
	args := make([]string, 0, len(d.BuildArgs)+1)
	if p.jobs > 0 {
		args = append(args, fmt.Sprintf("-j%d", p.jobs))
	}
	args = append(args, d.BuildArgs...)
	out, err := p.runner.Run(ctx, src, "make", args...)
	if err != nil {
		return &apperr.BuildError{Library: d.Name, Step: "make", ExitCode: ExitCode(err), Output: string(out), Err: err}
	}
	return nil
}

func (p *Pipeline) installArtifact(d Descriptor, src string) error {
	f, err := os.Open(clonePath(src, d.Artifact))
	if err != nil {
		return &apperr.BuildError{Library: d.Name, Step: "locate artifact " + d.Artifact, Err: err}
	}
	defer f.Close()
	if err := p.lib.Install(d.InstallName, f, 0o755); err != nil {
		return &apperr.BuildError{Library: d.Name, Step: "install artifact", Err: err}
	}
	return nil
}

// installAssets copies data files that are not installed yet. Existing files
// are left alone: several revisions share the same coefficient files.
func (p *Pipeline) installAssets(d Descriptor, src string) ([]string, error) {
	var copied []string
	for _, a := range d.Assets {
		ok, err := p.data.Exists(a.Dest)
		if err != nil {
			return nil, &apperr.BuildError{Library: d.Name, Step: "install asset " + a.Dest, Err: err}
		}
		if ok {
			continue
		}
		if err := p.copyAsset(d, src, a); err != nil {
			return nil, err
		}
		copied = append(copied, a.Dest)
	}
	return copied, nil
}

func (p *Pipeline) copyAsset(d Descriptor, src string, a Asset) error {
	f, err := os.Open(clonePath(src, a.Source))
	if err != nil {
		return &apperr.BuildError{Library: d.Name, Step: "locate asset " + a.Source, Err: err}
	}
	defer f.Close()
	if err := p.data.Install(a.Dest, f, 0o644); err != nil {
		return &apperr.BuildError{Library: d.Name, Step: "install asset " + a.Dest, Err: err}
	}
	return nil
}

func (p *Pipeline) record(a Attempt) {
	if p.rec == nil {
		return
	}
	if err := p.rec.RecordAttempt(a); err != nil {
		p.logger.Warn("provision: record attempt failed",
			slog.String("library", a.Library),
			slog.String("error", err.Error()))
	}
}
