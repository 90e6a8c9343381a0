// Package schema holds the wire types for MCP protocol version 2025-06-18.
//
// Earlier protocol revisions (2025-03-26, 2024-11-05) are accepted during
// version negotiation (see capability.BaseCapability) but served against this
// single, current schema rather than against per-revision type trees: the
// wire shape that changed release to release is almost entirely additive
// (optional fields), so one generous struct set covers all three revisions a
// real client is likely to send.
package schema

import "encoding/json"

// PROTOCOL_VERSION is the protocol revision this schema implements.
const PROTOCOL_VERSION = "2025-06-18"

// SupportedProtocolVersions lists every version string this server will
// negotiate down to (newest first). A client proposing anything else is
// offered PROTOCOL_VERSION.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// RequestID wraps the JSON-RPC id field, which may be a string, a number, or
// absent. Keeping it as its own type (rather than interface{} everywhere)
// lets callers compare and log ids uniformly.
type RequestID struct {
	Value interface{}
}

func RequestIDFromUInt64(value uint64) RequestID { return RequestID{Value: value} }

func RequestIDFromString(value string) RequestID { return RequestID{Value: value} }

func (id *RequestID) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	id.Value = v
	return nil
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Value)
}

func (id *RequestID) String() string {
	if id == nil || id.Value == nil {
		return "nil"
	}
	b, err := json.Marshal(id.Value)
	if err != nil {
		return err.Error()
	}
	return string(b)
}

func (id *RequestID) IsEmpty() bool { return id == nil || id.Value == nil }

// ProgressToken accompanies a request when the caller wants out-of-band
// progress notifications; string or integer.
type ProgressToken = interface{}

// Cursor is an opaque pagination token.
type Cursor string

// PaginatedRequestParams is embedded by every list request. Limit is a
// pointer so a request that omits it entirely is distinguishable from one
// that sends the literal zero, which must be rejected.
type PaginatedRequestParams struct {
	Cursor *Cursor `json:"cursor,omitempty"`
	Limit  *int    `json:"limit,omitempty"`
}

// PaginatedResult is embedded by every list result. Meta carries the
// cursor/total/hasMore triple carried on top of NextCursor, which
// is kept for clients that only look at the top-level field.
type PaginatedResult struct {
	NextCursor *Cursor `json:"nextCursor,omitempty"`
}

// PaginationMeta builds the `_meta.cursor`/`_meta.total`/`_meta.hasMore`
// triple list results carry alongside NextCursor.
func PaginationMeta(cursor Cursor, total *int, hasMore bool) Meta {
	m := Meta{"hasMore": hasMore}
	if cursor != "" {
		m["cursor"] = cursor
	}
	if total != nil {
		m["total"] = *total
	}
	return m
}

// Meta is the reserved `_meta` bag carried on most requests/results.
type Meta = map[string]interface{}

// Request is the base shape for JSON-RPC requests once unmarshalled generically.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Meta   *struct {
		ProgressToken ProgressToken `json:"progressToken,omitempty"`
	} `json:"_meta,omitempty"`
}

// Notification is the base shape for JSON-RPC notifications.
type Notification struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Result is the base shape for a bare JSON-RPC result (e.g. ping response).
type Result struct {
	Meta Meta `json:"_meta,omitempty"`
}
