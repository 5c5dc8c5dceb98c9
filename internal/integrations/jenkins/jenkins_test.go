package jenkins

import "testing"

func TestNormalizeBranch(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"origin/main", "main"},
		{"refs/remotes/origin/main", "main"},
		{"main", "main"},
		{"origin/release/1.2", "release/1.2"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeBranch(tc.raw); got != tc.want {
			t.Fatalf("normalizeBranch(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
