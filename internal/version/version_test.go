package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "1.2.3"
	got := String()
	if !strings.HasPrefix(got, "1.2.3 (") {
		t.Errorf("String() = %q, want prefix %q", got, "1.2.3 (")
	}
	if !strings.Contains(got, GitSHA) || !strings.Contains(got, BuildTime) {
		t.Errorf("String() = %q missing build metadata", got)
	}
}
