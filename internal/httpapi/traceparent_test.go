package httpapi

import "testing"

func TestParseTraceParentValid(t *testing.T) {
	tp, ok := ParseTraceParent("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	if !ok {
		t.Fatal("expected valid traceparent to parse")
	}
	if tp.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace id: %s", tp.TraceID)
	}
	if got := tp.String(); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Errorf("round trip mismatch: %s", got)
	}
}

func TestParseTraceParentRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"00-short-00f067aa0ba902b7-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7",
		"zz-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01extra",
	}
	for _, c := range cases {
		if _, ok := ParseTraceParent(c); ok {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}
