package httpapi

import (
	"fmt"
	"strings"
)

// TraceParent is the parsed form of a W3C traceparent header:
// "00-<32 hex trace id>-<16 hex parent id>-<2 hex flags>".
type TraceParent struct {
	Version  string
	TraceID  string
	ParentID string
	Flags    string
}

// ParseTraceParent validates and decomposes a traceparent header value.
func ParseTraceParent(value string) (TraceParent, bool) {
	parts := strings.Split(value, "-")
	if len(parts) != 4 {
		return TraceParent{}, false
	}
	if len(parts[0]) != 2 || len(parts[1]) != 32 || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return TraceParent{}, false
	}
	return TraceParent{Version: parts[0], TraceID: parts[1], ParentID: parts[2], Flags: parts[3]}, true
}

// String renders tp back to wire form.
func (tp TraceParent) String() string {
	return fmt.Sprintf("%s-%s-%s-%s", tp.Version, tp.TraceID, tp.ParentID, tp.Flags)
}
