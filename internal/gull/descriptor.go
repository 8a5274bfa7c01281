package gull

import (
	_ "embed"
	"path"

	"github.com/starford/grandlibs/internal/provision"
)

const (
	// Name identifies the library in records, logs and errors.
	Name = "gull"
	// URL is the upstream repository.
	URL = "https://github.com/niess/gull"
	// Revision is the pinned upstream commit.
	Revision = "91ed20fc52c35a8ae9d32416dd7d0249100aad6f"
)

// Models are the coefficient sets installed with the library.
var Models = []string{"IGRF12", "WMM2015"}

//go:embed ext/gull.c
var fieldExtension []byte

// Descriptor returns the provisioning descriptor of GULL.
func Descriptor() provision.Descriptor {
	assets := make([]provision.Asset, 0, len(Models))
	for _, m := range Models {
		assets = append(assets, provision.Asset{
			Source: path.Join("share", "data", m+".COF"),
			Dest:   path.Join(Name, m+".COF"),
		})
	}
	return provision.Descriptor{
		Name:     Name,
		URL:      URL,
		Revision: Revision,
		Extensions: []provision.Extension{{
			Name:    "field-batch",
			Version: 1,
			Target:  "src/gull.c",
			Source:  fieldExtension,
		}},
		Artifact:    "lib/libgull.so",
		InstallName: provision.SharedObjectName(Name),
		Assets:      assets,
	}
}
