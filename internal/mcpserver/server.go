// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes grandlibs tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/grandlibs/internal/apperr"
	"github.com/starford/grandlibs/internal/ledger"
	"github.com/starford/grandlibs/internal/provision"
	"github.com/starford/grandlibs/internal/service"
	"github.com/starford/grandlibs/internal/shape"
	"github.com/starford/grandlibs/internal/storage"
)

// Engine is the service surface the tools drive.
type Engine interface {
	ECEFFromGeodetic(ctx context.Context, latitude, longitude, altitude []float64) (shape.Vectors, error)
	ECEFToGeodetic(ctx context.Context, ecef []float64) (latitude, longitude, altitude shape.Scalars, err error)
	ECEFFromHorizontal(ctx context.Context, latitude, longitude, azimuth, elevation []float64) (shape.Vectors, error)
	ECEFToHorizontal(ctx context.Context, latitude, longitude, direction []float64) (azimuth, elevation shape.Scalars, err error)
	Field(ctx context.Context, q service.FieldQuery) (*service.FieldResult, error)
	Status() ([]service.LibraryStatus, error)
	Install(ctx context.Context, force bool) ([]*provision.Result, error)
	Reload(reason string)
}

// History lists recorded provisioning attempts.
type History interface {
	List(library string, limit int) ([]ledger.Entry, error)
}

// Server wraps the MCP server with grandlibs tools.
type Server struct {
	mcp     *server.MCPServer
	eng     Engine
	history History
	data    storage.Provider
}

func numbers(name, desc string, required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{
		mcp.Description(desc + " (a number, or an array for a batch)"),
		mcp.Items(map[string]any{"type": "number"}),
	}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithArray(name, opts...)
}

// New creates a new MCP server with all grandlibs tools registered. history
// may be nil. data is the data directory coefficient files are added to.
func New(eng Engine, history History, data storage.Provider) *Server {
	s := &Server{eng: eng, history: history, data: data}

	s.mcp = server.NewMCPServer(
		"grandlibs",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("ecef_from_geodetic",
		mcp.WithDescription("Convert geodetic coordinates (degrees, metres above the WGS84 ellipsoid) to ECEF positions in metres."),
		numbers("latitude", "Latitude in degrees", true),
		numbers("longitude", "Longitude in degrees", true),
		numbers("altitude", "Altitude in metres", true),
	), s.ecefFromGeodetic)

	s.mcp.AddTool(mcp.NewTool("ecef_to_geodetic",
		mcp.WithDescription("Convert ECEF positions in metres to geodetic latitude, longitude and altitude."),
		numbers("ecef", "Positions as a flat array or an array of [x, y, z] triples", true),
	), s.ecefToGeodetic)

	s.mcp.AddTool(mcp.NewTool("ecef_from_horizontal",
		mcp.WithDescription("Convert horizontal azimuth and elevation at an observer into ECEF unit directions."),
		numbers("latitude", "Observer latitude in degrees", true),
		numbers("longitude", "Observer longitude in degrees", true),
		numbers("azimuth", "Azimuth in degrees, clockwise from North", true),
		numbers("elevation", "Elevation in degrees above the horizon", true),
	), s.ecefFromHorizontal)

	s.mcp.AddTool(mcp.NewTool("ecef_to_horizontal",
		mcp.WithDescription("Convert ECEF directions at an observer into horizontal azimuth and elevation."),
		numbers("latitude", "Observer latitude in degrees", true),
		numbers("longitude", "Observer longitude in degrees", true),
		numbers("direction", "Directions as a flat array or an array of [x, y, z] triples", true),
	), s.ecefToHorizontal)

	s.mcp.AddTool(mcp.NewTool("magnetic_field",
		mcp.WithDescription("Evaluate the geomagnetic field (Tesla, local East/North/Up frame) of a model at a date."),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model name, e.g. IGRF12 or WMM2015")),
		mcp.WithString("date", mcp.Required(), mcp.Description("Date as YYYY-MM-DD")),
		numbers("latitude", "Latitude in degrees", true),
		numbers("longitude", "Longitude in degrees", true),
		numbers("altitude", "Altitude in metres, defaults to 0", false),
	), s.magneticField)

	s.mcp.AddTool(mcp.NewTool("library_status",
		mcp.WithDescription("Report the pinned and installed revision of every native library."),
	), s.libraryStatus)

	s.mcp.AddTool(mcp.NewTool("install_libraries",
		mcp.WithDescription("Fetch, patch and build the native libraries. Skips libraries already up to date unless force is set."),
		mcp.WithBoolean("force", mcp.Description("Rebuild even when up to date")),
	), s.installLibraries)

	s.mcp.AddTool(mcp.NewTool("install_history",
		mcp.WithDescription("List recent provisioning attempts, newest first."),
		mcp.WithString("library", mcp.Description("Optional library name to filter on")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries, defaults to 20")),
	), s.installHistory)

	s.mcp.AddTool(mcp.NewTool("add_model",
		mcp.WithDescription("Add a geomagnetic coefficient file (.COF) so that magnetic_field can use it by name. "+
			"Read the conventions via the grandlibs://conventions resource first."),
		mcp.WithString("model", mcp.Required(), mcp.Description("Model name, letters, digits, '_' and '-' only")),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or base64 data URI of the coefficient file")),
		mcp.WithBoolean("replace", mcp.Description("Overwrite an existing model of the same name")),
	), s.addModel)

	// Resource: units, frames and shape conventions.
	s.mcp.AddResource(
		mcp.NewResource(ConventionsURI, "Conventions",
			mcp.WithResourceDescription("Units, frames, batch shapes and error classes used by every tool."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readConventionsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// floats reads a numeric argument given as a number or a nested array.
func floats(req mcp.CallToolRequest, name string, required bool) ([]float64, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		if required {
			return nil, fmt.Errorf("required argument %q not found", name)
		}
		return nil, nil
	}
	out, err := shape.Flatten(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func floatArgs(req mcp.CallToolRequest, names ...string) ([][]float64, error) {
	out := make([][]float64, len(names))
	for i, name := range names {
		v, err := floats(req, name, true)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// toolError renders err with its class so the caller can tell bad input
// from a broken install.
func toolError(err error) *mcp.CallToolResult {
	msg := err.Error()
	if class := apperr.ClassOf(err); class != apperr.ClassNone {
		msg = fmt.Sprintf("[%s] %s", class, msg)
	}
	return mcp.NewToolResultError(msg)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) ecefFromGeodetic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := floatArgs(req, "latitude", "longitude", "altitude")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ecef, err := s.eng.ECEFFromGeodetic(ctx, args[0], args[1], args[2])
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"ecef": ecef})
}

func (s *Server) ecefToGeodetic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ecef, err := floats(req, "ecef", true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lat, lon, alt, err := s.eng.ECEFToGeodetic(ctx, ecef)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"latitude": lat, "longitude": lon, "altitude": alt})
}

func (s *Server) ecefFromHorizontal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := floatArgs(req, "latitude", "longitude", "azimuth", "elevation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, err := s.eng.ECEFFromHorizontal(ctx, args[0], args[1], args[2], args[3])
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"direction": dir})
}

func (s *Server) ecefToHorizontal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := floatArgs(req, "latitude", "longitude", "direction")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	az, el, err := s.eng.ECEFToHorizontal(ctx, args[0], args[1], args[2])
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"azimuth": az, "elevation": el})
}

func (s *Server) magneticField(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	model, err := req.RequireString("model")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawDate, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	date, err := time.Parse("2006-01-02", rawDate)
	if err != nil {
		return toolError(apperr.Invalid("magnetic_field", "must be formatted as YYYY-MM-DD", "date")), nil
	}
	args, err := floatArgs(req, "latitude", "longitude")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	alt, err := floats(req, "altitude", false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.eng.Field(ctx, service.FieldQuery{
		Model:     model,
		Date:      date,
		Latitude:  args[0],
		Longitude: args[1],
		Altitude:  alt,
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) libraryStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	libs, err := s.eng.Status()
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(libs)
}

func (s *Server) installLibraries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := req.GetBool("force", false)
	results, err := s.eng.Install(context.WithoutCancel(ctx), force)
	if err != nil {
		return toolError(err), nil
	}
	type row struct {
		Library  string `json:"library"`
		Revision string `json:"revision"`
		Skipped  bool   `json:"skipped"`
		Artifact string `json:"artifact"`
	}
	out := make([]row, 0, len(results))
	for _, r := range results {
		out = append(out, row{Library: r.Library, Revision: r.Revision, Skipped: r.Skipped, Artifact: r.Artifact})
	}
	return jsonResult(out)
}

func (s *Server) installHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.history == nil {
		return mcp.NewToolResultError("install history is disabled"), nil
	}
	limit := int(req.GetFloat("limit", 20))
	entries, err := s.history.List(req.GetString("library", ""), limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("no provisioning attempts recorded"), nil
	}
	type row struct {
		Library   string `json:"library"`
		Revision  string `json:"revision"`
		Status    string `json:"status"`
		Error     string `json:"error,omitempty"`
		StartedAt string `json:"started_at"`
	}
	out := make([]row, 0, len(entries))
	for _, e := range entries {
		out = append(out, row{
			Library:   e.Library,
			Revision:  e.Revision,
			Status:    string(e.Status),
			Error:     e.Error,
			StartedAt: e.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	return jsonResult(out)
}

func (s *Server) readConventionsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ConventionsURI,
			MIMEType: "text/markdown",
			Text:     Conventions,
		},
	}, nil
}
