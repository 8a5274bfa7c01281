package api

import (
	"github.com/starford/grandlibs/internal/service"
	"github.com/starford/grandlibs/internal/shape"
)

// Coordinate arguments accept a bare number for a single point or an array
// for a batch; vector arguments accept a flat array or an array of triples.

// FromGeodeticRequest is the request body for POST /ecef/from-geodetic.
type FromGeodeticRequest struct {
	Latitude  shape.Values `json:"latitude" swaggertype:"array,number" validate:"required"`
	Longitude shape.Values `json:"longitude" swaggertype:"array,number" validate:"required"`
	Altitude  shape.Values `json:"altitude" swaggertype:"array,number" validate:"required"`
}

// FromGeodeticResponse carries one ECEF position per input point.
type FromGeodeticResponse struct {
	ECEF shape.Vectors `json:"ecef" swaggertype:"array,number"`
}

// ToGeodeticRequest is the request body for POST /ecef/to-geodetic.
type ToGeodeticRequest struct {
	ECEF shape.Values `json:"ecef" swaggertype:"array,number" validate:"required"`
}

// ToGeodeticResponse carries the geodetic coordinates of every position.
type ToGeodeticResponse struct {
	Latitude  shape.Scalars `json:"latitude" swaggertype:"array,number"`
	Longitude shape.Scalars `json:"longitude" swaggertype:"array,number"`
	Altitude  shape.Scalars `json:"altitude" swaggertype:"array,number"`
}

// FromHorizontalRequest is the request body for POST /ecef/from-horizontal.
type FromHorizontalRequest struct {
	Latitude  shape.Values `json:"latitude" swaggertype:"array,number" validate:"required"`
	Longitude shape.Values `json:"longitude" swaggertype:"array,number" validate:"required"`
	Azimuth   shape.Values `json:"azimuth" swaggertype:"array,number" validate:"required"`
	Elevation shape.Values `json:"elevation" swaggertype:"array,number" validate:"required"`
}

// FromHorizontalResponse carries one ECEF direction per input.
type FromHorizontalResponse struct {
	Direction shape.Vectors `json:"direction" swaggertype:"array,number"`
}

// ToHorizontalRequest is the request body for POST /ecef/to-horizontal.
type ToHorizontalRequest struct {
	Latitude  shape.Values `json:"latitude" swaggertype:"array,number" validate:"required"`
	Longitude shape.Values `json:"longitude" swaggertype:"array,number" validate:"required"`
	Direction shape.Values `json:"direction" swaggertype:"array,number" validate:"required"`
}

// ToHorizontalResponse carries the horizontal angles of every direction.
type ToHorizontalResponse struct {
	Azimuth   shape.Scalars `json:"azimuth" swaggertype:"array,number"`
	Elevation shape.Scalars `json:"elevation" swaggertype:"array,number"`
}

// FieldRequest is the request body for POST /field.
type FieldRequest struct {
	Model     string       `json:"model" example:"IGRF12" validate:"required"`
	Date      string       `json:"date" example:"2019-01-01" validate:"required"`
	Latitude  shape.Values `json:"latitude" swaggertype:"array,number" validate:"required"`
	Longitude shape.Values `json:"longitude" swaggertype:"array,number" validate:"required"`
	Altitude  shape.Values `json:"altitude,omitempty" swaggertype:"array,number"`
}

// FieldResponse is the field at every queried position.
type FieldResponse = service.FieldResult

// LibraryStatus is one entry of GET /libraries.
type LibraryStatus = service.LibraryStatus

// LibrariesResponse wraps the library list.
type LibrariesResponse struct {
	Libraries []LibraryStatus `json:"libraries" validate:"required"`
}

// InstallResult is one entry of POST /libraries/install.
type InstallResult struct {
	Library    string   `json:"library" example:"gull"`
	Revision   string   `json:"revision" example:"91ed20fc52c35a8ae9d32416dd7d0249100aad6f"`
	Skipped    bool     `json:"skipped"`
	Artifact   string   `json:"artifact" example:"/opt/grandlibs/lib/libgull.so"`
	Assets     []string `json:"assets,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// InstallResponse wraps install results.
type InstallResponse struct {
	Results []InstallResult `json:"results" validate:"required"`
}

// HistoryEntry is one provisioning attempt.
type HistoryEntry struct {
	Library    string `json:"library" example:"turtle"`
	Revision   string `json:"revision"`
	Patchset   string `json:"patchset,omitempty"`
	Status     string `json:"status" example:"installed"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

// HistoryResponse wraps the provisioning history.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries" validate:"required"`
}
