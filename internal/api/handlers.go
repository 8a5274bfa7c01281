package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/ledger"
	"github.com/starford/grandlibs/internal/provision"
	"github.com/starford/grandlibs/internal/service"
	"github.com/starford/grandlibs/internal/shape"
)

// Engine is the slice of the service the HTTP layer drives.
type Engine interface {
	ECEFFromGeodetic(ctx context.Context, latitude, longitude, altitude []float64) (shape.Vectors, error)
	ECEFToGeodetic(ctx context.Context, ecef []float64) (latitude, longitude, altitude shape.Scalars, err error)
	ECEFFromHorizontal(ctx context.Context, latitude, longitude, azimuth, elevation []float64) (shape.Vectors, error)
	ECEFToHorizontal(ctx context.Context, latitude, longitude, direction []float64) (azimuth, elevation shape.Scalars, err error)
	Field(ctx context.Context, q service.FieldQuery) (*service.FieldResult, error)
	Status() ([]service.LibraryStatus, error)
	Install(ctx context.Context, force bool) ([]*provision.Result, error)
}

// History lists recorded provisioning attempts.
type History interface {
	List(library string, limit int) ([]ledger.Entry, error)
}

const (
	dateLayout          = "2006-01-02"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Handler holds API route handlers.
type Handler struct {
	eng     Engine
	history History
}

// NewHandler creates a new Handler.
func NewHandler(eng Engine, history History) *Handler {
	return &Handler{eng: eng, history: history}
}

// FromGeodetic handles POST /api/ecef/from-geodetic.
//
//	@Summary		Convert geodetic coordinates to ECEF positions
//	@Tags			ecef
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FromGeodeticRequest	true	"Geodetic coordinates"
//	@Success		200		{object}	FromGeodeticResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ecef/from-geodetic [post]
func (h *Handler) FromGeodetic(w http.ResponseWriter, r *http.Request) {
	var req FromGeodeticRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ecef, err := h.eng.ECEFFromGeodetic(r.Context(), req.Latitude, req.Longitude, req.Altitude)
	if err != nil {
		writeError(w, "ecef from geodetic", err)
		return
	}
	writeJSON(w, http.StatusOK, FromGeodeticResponse{ECEF: ecef})
}

// ToGeodetic handles POST /api/ecef/to-geodetic.
//
//	@Summary		Convert ECEF positions to geodetic coordinates
//	@Tags			ecef
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ToGeodeticRequest	true	"ECEF positions, flat or n x 3"
//	@Success		200		{object}	ToGeodeticResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ecef/to-geodetic [post]
func (h *Handler) ToGeodetic(w http.ResponseWriter, r *http.Request) {
	var req ToGeodeticRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lat, lon, alt, err := h.eng.ECEFToGeodetic(r.Context(), req.ECEF)
	if err != nil {
		writeError(w, "ecef to geodetic", err)
		return
	}
	writeJSON(w, http.StatusOK, ToGeodeticResponse{Latitude: lat, Longitude: lon, Altitude: alt})
}

// FromHorizontal handles POST /api/ecef/from-horizontal.
//
//	@Summary		Convert horizontal angles to ECEF directions
//	@Tags			ecef
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FromHorizontalRequest	true	"Observer position and angles"
//	@Success		200		{object}	FromHorizontalResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ecef/from-horizontal [post]
func (h *Handler) FromHorizontal(w http.ResponseWriter, r *http.Request) {
	var req FromHorizontalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	dir, err := h.eng.ECEFFromHorizontal(r.Context(), req.Latitude, req.Longitude, req.Azimuth, req.Elevation)
	if err != nil {
		writeError(w, "ecef from horizontal", err)
		return
	}
	writeJSON(w, http.StatusOK, FromHorizontalResponse{Direction: dir})
}

// ToHorizontal handles POST /api/ecef/to-horizontal.
//
//	@Summary		Convert ECEF directions to horizontal angles
//	@Tags			ecef
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ToHorizontalRequest	true	"Observer position and directions"
//	@Success		200		{object}	ToHorizontalResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ecef/to-horizontal [post]
func (h *Handler) ToHorizontal(w http.ResponseWriter, r *http.Request) {
	var req ToHorizontalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	az, el, err := h.eng.ECEFToHorizontal(r.Context(), req.Latitude, req.Longitude, req.Direction)
	if err != nil {
		writeError(w, "ecef to horizontal", err)
		return
	}
	writeJSON(w, http.StatusOK, ToHorizontalResponse{Azimuth: az, Elevation: el})
}

// Field handles POST /api/field.
//
//	@Summary		Evaluate the geomagnetic field
//	@Tags			field
//	@Accept			json
//	@Produce		json
//	@Param			body	body		FieldRequest	true	"Model, date and positions"
//	@Success		200		{object}	FieldResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/field [post]
func (h *Handler) Field(w http.ResponseWriter, r *http.Request) {
	var req FieldRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, "field", apperr.Invalid("field", "must be formatted as YYYY-MM-DD", "date"))
		return
	}
	res, err := h.eng.Field(r.Context(), service.FieldQuery{
		Model:     req.Model,
		Date:      date,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Altitude:  req.Altitude,
	})
	if err != nil {
		writeError(w, "field", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Libraries handles GET /api/libraries.
//
//	@Summary		Report install state of the native libraries
//	@Tags			libraries
//	@Produce		json
//	@Success		200		{object}	LibrariesResponse
//	@Security		BearerAuth
//	@Router			/libraries [get]
func (h *Handler) Libraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.eng.Status()
	if err != nil {
		writeError(w, "library status", err)
		return
	}
	writeJSON(w, http.StatusOK, LibrariesResponse{Libraries: libs})
}

// Install handles POST /api/libraries/install.
//
//	@Summary		Provision the native libraries
//	@Tags			libraries
//	@Produce		json
//	@Param			force	query		bool	false	"Rebuild even when up to date"
//	@Success		200		{object}	InstallResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/libraries/install [post]
func (h *Handler) Install(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	results, err := h.eng.Install(context.WithoutCancel(r.Context()), force)
	if err != nil {
		writeError(w, "install", err)
		return
	}
	resp := InstallResponse{Results: make([]InstallResult, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, InstallResult{
			Library:    res.Library,
			Revision:   res.Revision,
			Skipped:    res.Skipped,
			Artifact:   res.Artifact,
			Assets:     res.Assets,
			DurationMS: res.Duration.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// History handles GET /api/libraries/history.
//
//	@Summary		List provisioning attempts, newest first
//	@Tags			libraries
//	@Produce		json
//	@Param			library	query		string	false	"Filter by library"
//	@Param			limit	query		int		false	"Maximum entries"
//	@Success		200		{object}	HistoryResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/libraries/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody("history is disabled"))
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	entries, err := h.history.List(q.Get("library"), limit)
	if err != nil {
		writeError(w, "history", err)
		return
	}
	resp := HistoryResponse{Entries: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, HistoryEntry{
			Library:    e.Library,
			Revision:   e.Revision,
			Patchset:   e.Patchset,
			Status:     string(e.Status),
			Error:      e.Error,
			StartedAt:  e.StartedAt.UTC().Format(time.RFC3339),
			DurationMS: e.Duration.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
