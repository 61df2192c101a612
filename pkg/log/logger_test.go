package log

import (
	"bytes"
	"strings"
	"testing"
)

func resetForTest() {
	SetLevel(INFO)
	SetColorize(false)
}

func TestLevelFiltering(t *testing.T) {
	resetForTest()
	var buf bytes.Buffer
	SetWriter(&buf)

	l := New("test")
	l.Debug("hidden")
	l.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("DEBUG message logged at INFO level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("INFO message missing: %q", out)
	}
	if !strings.Contains(out, "test: shown") {
		t.Errorf("prefix missing: %q", out)
	}
}

func TestSetLevelBits(t *testing.T) {
	resetForTest()
	cases := []struct {
		bits int
		want Level
	}{
		{0, WARN},
		{1, VERBOSE},
		{2, DEBUG},
		{3, VERBOSE},
		{4, INFO},
		{7, VERBOSE},
	}
	for _, c := range cases {
		SetLevelBits(c.bits)
		if got := GetLevel(); got != c.want {
			t.Errorf("SetLevelBits(%d): level = %v, want %v", c.bits, got, c.want)
		}
	}
	SetLevel(INFO)
}

func TestFields(t *testing.T) {
	resetForTest()
	var buf bytes.Buffer
	SetWriter(&buf)

	New("motion").WithFields(WARN, "dest clamped", Fields{"axis": "z", "mm": 205.0})
	out := buf.String()
	if !strings.Contains(out, "{axis=z, mm=205}") {
		t.Errorf("fields not formatted sorted: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warning") != WARN {
		t.Error("warning should parse to WARN")
	}
	if ParseLevel("bogus") != INFO {
		t.Error("unknown level should default to INFO")
	}
}
