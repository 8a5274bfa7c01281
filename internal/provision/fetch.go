package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/grandlibs/internal/apperr"
)

const cloneDir = "src"

// fetch clones d.URL into workdir, checks out the pinned revision and
// verifies that HEAD really is that revision. It returns the clone root.
func (p *Pipeline) fetch(ctx context.Context, d Descriptor, workdir string) (string, error) {
	fail := func(out []byte, err error) error {
		return &apperr.FetchError{URL: d.URL, Revision: d.Revision, Output: string(out), Err: err}
	}

	if out, err := p.runner.Run(ctx, workdir, "git", "clone", "--quiet", d.URL, cloneDir); err != nil {
		return "", fail(out, err)
	}
	src := filepath.Join(workdir, cloneDir)
	if out, err := p.runner.Run(ctx, src, "git", "checkout", "--quiet", d.Revision); err != nil {
		return "", fail(out, err)
	}
	out, err := p.runner.Run(ctx, src, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fail(out, err)
	}
	if head := strings.TrimSpace(string(out)); head != d.Revision {
		return "", fail(nil, fmt.Errorf("checked out %s, want %s", head, d.Revision))
	}
	return src, nil
}

func clonePath(src, rel string) string {
	return filepath.Join(src, filepath.FromSlash(rel))
}
