package provision

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/starford/grandlibs/internal/apperr"
)

// applyExtensions appends every extension of d to its upstream target,
// fenced by begin/end markers naming the extension and its version. A
// missing target or an extension applied twice fails the build with a
// message pointing at the offending extension.
func applyExtensions(src string, d Descriptor, logger *slog.Logger) error {
	for _, ext := range d.Extensions {
		step := "patch " + ext.Label() + " into " + ext.Target
		target := clonePath(src, ext.Target)

		info, err := os.Stat(target)
		if errors.Is(err, fs.ErrNotExist) {
			return &apperr.BuildError{Library: d.Name, Step: step, Err: fmt.Errorf("target %s missing at this revision", ext.Target)}
		}
		if err != nil {
			return &apperr.BuildError{Library: d.Name, Step: step, Err: err}
		}
		data, err := os.ReadFile(target)
		if err != nil {
			return &apperr.BuildError{Library: d.Name, Step: step, Err: err}
		}
		if bytes.Contains(data, []byte(ext.beginMarker())) {
			return &apperr.BuildError{Library: d.Name, Step: step, Err: errors.New("extension already applied")}
		}

		if err := os.WriteFile(target, appendExtension(data, ext), info.Mode().Perm()); err != nil {
			return &apperr.BuildError{Library: d.Name, Step: step, Err: err}
		}
		logger.Debug("provision: extension applied", slog.String("extension", ext.Label()), slog.String("target", ext.Target))
	}
	return nil
}

func appendExtension(upstream []byte, ext Extension) []byte {
	var buf bytes.Buffer
	buf.Grow(len(upstream) + len(ext.Source) + 128)
	buf.Write(upstream)
	if len(upstream) > 0 && upstream[len(upstream)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.WriteString(ext.beginMarker())
	buf.WriteByte('\n')
	buf.Write(ext.Source)
	if len(ext.Source) > 0 && ext.Source[len(ext.Source)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString(ext.endMarker())
	buf.WriteByte('\n')
	return buf.Bytes()
}
