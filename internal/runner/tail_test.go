package runner

import (
	"strings"
	"testing"
)

// TestTailWriterUnderLimit checks small writes pass through untouched.
func TestTailWriterUnderLimit(t *testing.T) {
	w := newTailWriter(16)
	if _, err := w.Write([]byte("short")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := w.String(); got != "short" {
		t.Fatalf("String() = %q, want short", got)
	}
}

// TestTailWriterKeepsTail checks only the newest bytes survive.
func TestTailWriterKeepsTail(t *testing.T) {
	w := newTailWriter(8)
	for _, chunk := range []string{"aaaa", "bbbb", "cccc"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	got := w.String()
	if !strings.HasPrefix(got, "...(truncated)...") {
		t.Fatalf("String() = %q, want truncation marker", got)
	}
	if !strings.HasSuffix(got, "bbbbcccc") {
		t.Fatalf("String() = %q, want newest 8 bytes", got)
	}
}

// TestTailWriterOversizeSingleWrite checks one huge write is trimmed.
func TestTailWriterOversizeSingleWrite(t *testing.T) {
	w := newTailWriter(4)
	n, err := w.Write([]byte("0123456789"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 10 {
		t.Fatalf("n = %d, want 10", n)
	}
	if got := w.String(); got != "...(truncated)...6789" {
		t.Fatalf("String() = %q", got)
	}
}
