// Package contentapi is the client of the content automation service, which
// reads and writes JSON documents addressed by repository-relative paths.
//
//	GET {base}/api/teacher/content?path={path} -> {path, content}
//	PUT {base}/api/teacher/content {path, content} -> {path, content, savedAt?}
package contentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lessonsync/internal/logging"
	"lessonsync/internal/snapshot"
)

// Endpoint is the resource path served by the automation service.
const Endpoint = "/api/teacher/content"

// Header names.
const (
	HeaderToken     = "X-Teacher-Token"
	HeaderRequestID = "X-Request-ID"
)

// maxErrorBody caps how much of an error response is read for the detail.
const maxErrorBody = 4096

// Document is a JSON document returned by the service.
type Document struct {
	Path    string `json:"path"`
	Content any    `json:"content"`
}

// SaveResponse is the service reply to a save.
type SaveResponse struct {
	Path    string `json:"path"`
	Content any    `json:"content"`
	// SavedAt is zero when the service did not report it.
	SavedAt time.Time `json:"-"`
}

type saveRequest struct {
	Path    string `json:"path"`
	Content any    `json:"content"`
}

type saveReply struct {
	Path    string `json:"path"`
	Content any    `json:"content"`
	SavedAt string `json:"savedAt,omitempty"`
}

// Store is the interface editor sessions use to reach the service.
type Store interface {
	Available() bool
	Fetch(ctx context.Context, path string) (Document, error)
	Save(ctx context.Context, path string, content any) (SaveResponse, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the service root. Empty disables the client.
	BaseURL string
	// Token is sent as X-Teacher-Token when non-empty.
	Token string
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
	// HTTPClient overrides the default http.Client.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client talks to the automation service over HTTP.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *logging.Logger
}

var _ Store = (*Client)(nil)

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		base:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:  cfg.Token,
		http:   hc,
		logger: logger.WithComponent("contentapi"),
	}
}

// Available reports whether an endpoint is configured.
func (c *Client) Available() bool {
	return c.base != ""
}

// Fetch loads the document at path. The content must be a JSON object.
func (c *Client) Fetch(ctx context.Context, path string) (Document, error) {
	const op = "fetch"
	if !c.Available() {
		return Document{}, configError(op)
	}

	u := c.base + Endpoint + "?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Document{}, transportError(op, err)
	}

	var doc Document
	if err := c.do(req, op, path, &doc); err != nil {
		return Document{}, err
	}
	if _, ok := doc.Content.(map[string]any); !ok {
		return Document{}, payloadError(op, fmt.Errorf("content of %q is %T, want object", path, doc.Content))
	}
	return doc, nil
}

// Save stores content at path.
func (c *Client) Save(ctx context.Context, path string, content any) (SaveResponse, error) {
	const op = "save"
	if !c.Available() {
		return SaveResponse{}, configError(op)
	}

	body, err := json.Marshal(saveRequest{Path: path, Content: content})
	if err != nil {
		return SaveResponse{}, payloadError(op, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+Endpoint, bytes.NewReader(body))
	if err != nil {
		return SaveResponse{}, transportError(op, err)
	}

	var reply saveReply
	if err := c.do(req, op, path, &reply); err != nil {
		return SaveResponse{}, err
	}

	resp := SaveResponse{Path: reply.Path, Content: reply.Content}
	if reply.SavedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, reply.SavedAt); err == nil {
			resp.SavedAt = ts
		} else {
			c.logger.Warn("ignoring malformed savedAt", "path", path, "saved_at", reply.SavedAt)
		}
	}
	return resp, nil
}

func (c *Client) do(req *http.Request, op, path string, out any) error {
	reqID := logging.RequestIDFromContext(req.Context())
	if reqID == "" {
		reqID = logging.NewRequestID()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, reqID)
	if c.token != "" {
		req.Header.Set(HeaderToken, c.token)
	}

	log := c.logger.WithRequestID(reqID)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("request failed", "op", op, "path", path, "error", err)
		return transportError(op, err)
	}
	defer resp.Body.Close()

	log.Debug("request completed", "op", op, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(op, resp.StatusCode, errorDetail(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}
	if err := decodeInto(data, out); err != nil {
		return payloadError(op, err)
	}
	return nil
}

// decodeInto decodes a response body keeping JSON numbers exact.
func decodeInto(data []byte, out any) error {
	v, err := snapshot.Decode(data)
	if err != nil {
		return err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return errors.New("response body is not a JSON object")
	}
	switch o := out.(type) {
	case *Document:
		o.Path, _ = obj["path"].(string)
		o.Content = obj["content"]
	case *saveReply:
		o.Path, _ = obj["path"].(string)
		o.Content = obj["content"]
		o.SavedAt, _ = obj["savedAt"].(string)
	default:
		return json.Unmarshal(data, out)
	}
	return nil
}

// errorDetail extracts a message from an error response: the "error" field
// of a JSON object, the plain-text body, or nothing.
func errorDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		return strings.TrimSpace(payload.Error)
	}
	return text
}
