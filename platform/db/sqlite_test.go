package db

import "testing"

func TestWithPragmas(t *testing.T) {
	cases := map[string]string{
		":memory:":                          "file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		"file:permits.db?mode=rwc":          "file:permits.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		"file:x.db?_pragma=foreign_keys(1)": "file:x.db?_pragma=foreign_keys(1)",
	}
	for in, want := range cases {
		if got := withPragmas(in); got != want {
			t.Fatalf("withPragmas(%q) = %q, want %q", in, got, want)
		}
	}
}
