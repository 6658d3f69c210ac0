package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "entity", "shop.Books")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"entity":"shop.Books"`) {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := New(&buf, "loud", "text"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
	if _, err := New(&buf, "info", "xml"); err == nil {
		t.Fatalf("expected invalid format to fail")
	}
}
