package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactVehicleIdentifiers(t *testing.T) {
	out, changed := RedactPII("my vin is 1HGCM82633A004352 and I'm at 37.7749, -122.4194")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if !strings.Contains(out, "[REDACTED_VIN]") {
		t.Fatalf("output missing VIN marker: %q", out)
	}
	if !strings.Contains(out, "[REDACTED_LOCATION]") {
		t.Fatalf("output missing location marker: %q", out)
	}
}

func TestRedactLeavesCommandsAlone(t *testing.T) {
	in := "navigate to 123 Main St"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q,%v want unchanged", in, out, changed)
	}
}
