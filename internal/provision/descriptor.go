package provision

import (
	"fmt"
	"regexp"
	"runtime"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/grandlibs/internal/checksum"
)

var (
	namePattern     = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	revisionPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// Descriptor pins one wrapped native library: where its source lives, which
// commit to build, which local extensions to inject and what to install.
// A Descriptor is immutable once defined.
type Descriptor struct {
	Name     string
	URL      string
	Revision string

	// Extensions are appended to upstream sources before the build, in order.
	Extensions []Extension

	// BuildArgs are extra arguments passed to make.
	BuildArgs []string

	// Artifact is the build output, relative to the clone root.
	Artifact string
	// InstallName is the file name of the artifact inside the install dir.
	InstallName string

	// Assets are runtime data files copied into the data dir.
	Assets []Asset
}

// Extension is a versioned local source file appended to an upstream file.
// It is how batch entry points are injected into the upstream build.
type Extension struct {
	Name    string
	Version int
	// Target is the upstream file to extend, relative to the clone root.
	Target string
	Source []byte
}

// Asset is a data file shipped with the upstream sources.
type Asset struct {
	// Source is relative to the clone root.
	Source string
	// Dest is relative to the data dir.
	Dest string
}

// Validate validates the descriptor.
func (d Descriptor) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Match(namePattern)),
		validation.Field(&d.URL, validation.Required),
		validation.Field(&d.Revision, validation.Required, validation.Match(revisionPattern).Error("must be a full 40-character commit hash")),
		validation.Field(&d.Artifact, validation.Required),
		validation.Field(&d.InstallName, validation.Required),
		validation.Field(&d.Extensions),
		validation.Field(&d.Assets),
	)
}

// Validate validates the extension.
func (e Extension) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Match(namePattern)),
		validation.Field(&e.Version, validation.Required, validation.Min(1)),
		validation.Field(&e.Target, validation.Required),
		validation.Field(&e.Source, validation.Required),
	)
}

// Validate validates the asset.
func (a Asset) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Source, validation.Required),
		validation.Field(&a.Dest, validation.Required),
	)
}

// Label identifies the extension in markers, logs and errors.
func (e Extension) Label() string {
	return fmt.Sprintf("%s v%d", e.Name, e.Version)
}

func (e Extension) beginMarker() string {
	return "/* >>> grandlibs " + e.Label() + " */"
}

func (e Extension) endMarker() string {
	return "/* <<< grandlibs " + e.Label() + " */"
}

// Patchset digests the extensions of d, in order.
func (d Descriptor) Patchset() string {
	parts := make([]checksum.Part, 0, len(d.Extensions))
	for _, e := range d.Extensions {
		parts = append(parts, checksum.Part{Name: e.Label() + ":" + e.Target, Data: e.Source})
	}
	return checksum.Combine(parts...)
}

// SharedObjectName returns the OS-appropriate file name of a shared library.
func SharedObjectName(name string) string {
	switch runtime.GOOS {
	case "darwin":
		return "lib" + name + ".dylib"
	case "windows":
		return name + ".dll"
	default:
		return "lib" + name + ".so"
	}
}
