package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/archtrace/raceway/internal/clock"
)

// raceClockHeader is the JSON payload carried by the raceway-clock
// header, per spec §6: `v1;<base64url(zstd(JSON))>`.
type raceClockHeader struct {
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentSpanID  string         `json:"parent_span_id,omitempty"`
	Service       string         `json:"service"`
	Clock         clock.Vector   `json:"clock"`
}

// EncodeClockHeader serializes h to the wire form of spec §6: JSON,
// zstd-compressed, base64url-encoded, prefixed with the format version.
func EncodeClockHeader(h raceClockHeader) (string, error) {
	payload, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("raceway-clock: marshal: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("raceway-clock: zstd writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return "", fmt.Errorf("raceway-clock: zstd write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("raceway-clock: zstd close: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	return "v1;" + encoded, nil
}

// DecodeClockHeader parses a raceway-clock header value. Unknown
// versions are ignored per spec §6 ("a new trace is generated"), signaled
// by returning (zero value, false, nil) rather than an error.
func DecodeClockHeader(value string) (raceClockHeader, bool, error) {
	version, encoded, found := strings.Cut(value, ";")
	if !found || version != "v1" {
		return raceClockHeader{}, false, nil
	}

	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return raceClockHeader{}, false, fmt.Errorf("raceway-clock: base64: %w", err)
	}

	r, err := zstd.NewReader(nil)
	if err != nil {
		return raceClockHeader{}, false, fmt.Errorf("raceway-clock: zstd reader: %w", err)
	}
	defer r.Close()

	payload, err := r.DecodeAll(compressed, nil)
	if err != nil {
		return raceClockHeader{}, false, fmt.Errorf("raceway-clock: zstd decode: %w", err)
	}

	var h raceClockHeader
	if err := json.Unmarshal(payload, &h); err != nil {
		return raceClockHeader{}, false, fmt.Errorf("raceway-clock: unmarshal: %w", err)
	}
	return h, true, nil
}
