package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/grandlibs/internal/checksum"
)

const maxModelSize = 10 << 20 // 10 MB

var modelNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type addModelResult struct {
	Model    string `json:"model"`
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	Replaced bool   `json:"replaced"`
}

func (s *Server) addModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.data == nil {
		return mcp.NewToolResultError("no data directory configured"), nil
	}
	model, err := req.RequireString("model")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !modelNameRe.MatchString(model) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid model name %q: use letters, digits, '_' and '-'", model)), nil
	}
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	replace := req.GetBool("replace", false)

	var data []byte
	if strings.HasPrefix(rawURL, "data:") {
		data, err = decodeDataURI(rawURL)
	} else {
		data, err = fetchHTTP(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := validateCoefficients(data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	savePath := path.Join("gull", model+".COF")
	exists, err := s.data.Exists(savePath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if exists && !replace {
		return mcp.NewToolResultError(fmt.Sprintf("model already exists: %s (set replace to overwrite)", model)), nil
	}

	if err := s.data.Write(savePath, data, 0o644); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save model: %v", err)), nil
	}
	if exists {
		// Cached snapshots still hold the old coefficients.
		s.eng.Reload("model " + model + " replaced")
	}

	out, _ := json.Marshal(addModelResult{Model: model, Path: savePath, SHA256: checksum.Sum(data), Replaced: exists})
	return mcp.NewToolResultText(string(out)), nil
}

// decodeDataURI parses a data:[<mediatype>];base64,<data> URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest := strings.TrimPrefix(uri, "data:")
	commaIdx := strings.Index(rest, ",")
	if commaIdx < 0 {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}

	meta := rest[:commaIdx]
	encoded := rest[commaIdx+1:]

	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	if len(data) > maxModelSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", len(data), maxModelSize)
	}
	return data, nil
}

// fetchHTTP downloads a file from an HTTP/HTTPS URL with security checks.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}

	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxModelSize {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", maxModelSize)
	}
	return data, nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	// AWS/GCP/Azure metadata endpoint.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// validateCoefficients checks that data is a plain-text table whose first
// line is a model header: a name, an epoch and two expansion orders.
func validateCoefficients(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("coefficient file is empty")
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "text/plain") {
		return fmt.Errorf("coefficient file must be plain text (detected: %s)", ct)
	}
	first, _, _ := strings.Cut(strings.TrimLeft(string(data), "\r\n"), "\n")
	if len(strings.Fields(first)) < 4 {
		return fmt.Errorf("coefficient file does not start with a model header: %q", strings.TrimSpace(first))
	}
	return nil
}
