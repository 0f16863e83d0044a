package grader

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeChecks(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "checks.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write checks: %v", err)
	}
	return p
}

// TestLoadChecks_TableDriven covers well-formed arrays, null, and the
// malformed inputs that must surface as errors.
func TestLoadChecks_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    Checks
		wantErr bool
	}{
		{name: "array", body: `["h1", "#header", ".container"]`, want: Checks{"h1", "#header", ".container"}},
		{name: "empty", body: `[]`, want: Checks{}},
		{name: "null", body: `null`, want: nil},
		{name: "object", body: `{"h1": true}`, wantErr: true},
		{name: "non_string_item", body: `["h1", 3]`, wantErr: true},
		{name: "truncated", body: `["h1"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := LoadChecks(writeChecks(t, tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadChecks err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) || (len(got) > 0 && !reflect.DeepEqual(got, tt.want)) {
				t.Fatalf("got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

// TestChecks_Sorted verifies ascending order and that the receiver is left
// untouched.
func TestChecks_Sorted(t *testing.T) {
	t.Parallel()

	in := Checks{"h2", "body", "h1", "#id", ".x", "h1"}
	got := in.Sorted()

	want := Checks{"#id", ".x", "body", "h1", "h1", "h2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Sorted()=%v want %v", got, want)
	}
	if in[0] != "h2" {
		t.Fatalf("Sorted mutated its receiver: %v", in)
	}
}

// TestChecks_Sorted_CodePointOrder pins code point order for characters
// outside the Basic Multilingual Plane.
func TestChecks_Sorted_CodePointOrder(t *testing.T) {
	t.Parallel()

	in := Checks{"p[title=\"\U0001F600\"]", "p[title=\"\uFF01\"]"}
	got := in.Sorted()

	want := Checks{"p[title=\"\uFF01\"]", "p[title=\"\U0001F600\"]"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Sorted()=%q want %q", got, want)
	}
}
