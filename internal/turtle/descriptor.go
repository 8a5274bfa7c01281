package turtle

import (
	_ "embed"

	"github.com/starford/grandlibs/internal/provision"
)

const (
	// Name identifies the library in records, logs and errors.
	Name = "turtle"
	// URL is the upstream repository.
	URL = "https://github.com/niess/turtle"
	// Revision is the pinned upstream commit.
	Revision = "0e7da42989bddd56426280ed6c02cd256d0bec9b"
)

//go:embed ext/ecef.c
var ecefExtension []byte

// Descriptor returns the provisioning descriptor of TURTLE.
func Descriptor() provision.Descriptor {
	return provision.Descriptor{
		Name:     Name,
		URL:      URL,
		Revision: Revision,
		Extensions: []provision.Extension{{
			Name:    "ecef-batch",
			Version: 1,
			Target:  "src/turtle/ecef.c",
			Source:  ecefExtension,
		}},
		Artifact:    "lib/libturtle.so",
		InstallName: provision.SharedObjectName(Name),
	}
}
