package core

import (
	"sort"
	"strings"
	"testing"
)

func TestNewUUIDv7_SortsInCreationOrder(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = NewUUIDv7()
		if !IsValidUUIDv7(ids[i]) {
			t.Fatalf("NewUUIDv7() = %q, not a version 7 UUID", ids[i])
		}
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("UUIDv7 job ids should sort in creation order")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("NewUUIDv7() repeated %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDChecks(t *testing.T) {
	v7 := NewUUIDv7()
	tests := []struct {
		name    string
		input   string
		wantAny bool
		wantV7  bool
	}{
		{"generated", v7, true, true},
		{"uppercase v7", strings.ToUpper(v7), true, true},
		{"v4", "9b2f0c1e-4d7a-4f3b-9a61-2c5e8d0f7a13", true, false},
		{"v7 with bad variant", "01908a9c-e4a5-7c8b-0d3e-0a1b2c3d4e5f", true, false},
		{"urn form", "urn:uuid:" + v7, false, false},
		{"braced", "{" + v7 + "}", false, false},
		{"no hyphens", strings.ReplaceAll(v7, "-", ""), false, false},
		{"empty", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidUUID(tt.input); got != tt.wantAny {
				t.Errorf("IsValidUUID(%q) = %v, want %v", tt.input, got, tt.wantAny)
			}
			if got := IsValidUUIDv7(tt.input); got != tt.wantV7 {
				t.Errorf("IsValidUUIDv7(%q) = %v, want %v", tt.input, got, tt.wantV7)
			}
		})
	}
}
