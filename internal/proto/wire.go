// Package proto defines wire format DTOs for the weave HTTP API.
package proto

import "encoding/json"

// HealthResponse reports daemon health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CreateSessionRequest opens a session around a document.
type CreateSessionRequest struct {
	// ID names the session; the server assigns one when empty.
	ID string `json:"id,omitempty"`
	// Document is the initial document tree.
	Document json.RawMessage `json:"document"`
	// Format is "json" (default) or "yaml".
	Format string `json:"format,omitempty"`
}

// SessionInfo describes one open session.
type SessionInfo struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"`
}

// SessionsResponse lists open sessions.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// ApplyResponse is returned after applying a patch.
type ApplyResponse struct {
	Seq int64 `json:"seq"`
}

// UpdateRequest carries a full replacement tree to diff against the
// session's current document.
type UpdateRequest struct {
	Document json.RawMessage `json:"document"`
}

// UpdateResponse returns the patch the update reduced to.
type UpdateResponse struct {
	Patch json.RawMessage `json:"patch"`
	Seq   int64           `json:"seq"`
}

// DiffResponse returns a computed patch without applying it.
type DiffResponse struct {
	Patch json.RawMessage `json:"patch"`
}

// ExecuteResponse maps code node ids to their terminal status.
type ExecuteResponse struct {
	Statuses map[string]string `json:"statuses"`
}

// KernelInfo describes one registered kernel type.
type KernelInfo struct {
	Name      string   `json:"name"`
	Languages []string `json:"languages"`
	Tags      []string `json:"tags,omitempty"`
	Fork      bool     `json:"fork"`
}

// KernelsResponse lists registered kernel types and live sessions.
type KernelsResponse struct {
	Kernels []KernelInfo `json:"kernels"`
}
