package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is the uniform envelope returned for every request.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	// StatusCode is the HTTP status, or 200 for a cache hit.
	StatusCode int `json:"-"`

	// Cached is true when the response was served from the cache.
	Cached bool `json:"-"`
}

// RawResponse carries undecoded data.
type RawResponse = Response[json.RawMessage]

// Decode converts a raw response into a typed one. If the data does not
// decode into T, the envelope is returned without data alongside the error.
func Decode[T any](raw *RawResponse) (*Response[T], error) {
	out := &Response[T]{
		Success:    raw.Success,
		Error:      raw.Error,
		Message:    raw.Message,
		StatusCode: raw.StatusCode,
		Cached:     raw.Cached,
	}
	if len(raw.Data) == 0 || bytes.Equal(raw.Data, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(raw.Data, &out.Data); err != nil {
		var zero T
		out.Data = zero
		return out, fmt.Errorf("decoding response data: %w", err)
	}
	return out, nil
}

// normalizeSuccess builds the envelope for a 2xx body. A JSON object with a
// "success" field is already an envelope; anything else becomes Data.
func normalizeSuccess(status int, body []byte) *RawResponse {
	resp := &RawResponse{Success: true, StatusCode: status}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return resp
	}
	if !json.Valid(body) {
		resp.Data, _ = json.Marshal(string(body))
		return resp
	}

	var probe map[string]json.RawMessage
	if json.Unmarshal(body, &probe) == nil {
		if _, ok := probe["success"]; ok {
			var env RawResponse
			if err := json.Unmarshal(body, &env); err == nil {
				env.StatusCode = status
				return &env
			}
		}
	}

	resp.Data = json.RawMessage(body)
	return resp
}

// errorMessage extracts a human-readable message from an error body,
// falling back to the status text.
func errorMessage(status int, body []byte) string {
	var probe map[string]any
	if json.Unmarshal(body, &probe) == nil {
		for _, key := range []string{"error", "message", "detail"} {
			if s, ok := probe[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

// serverMessage returns the "message" field of an error body, if any.
func serverMessage(body []byte) string {
	var probe struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &probe) == nil {
		return probe.Message
	}
	return ""
}
