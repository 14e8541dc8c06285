package handlers

import "testing"

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"08:30", "08:30", true},
		{"8:30", "08:30", true},
		{"23:59", "23:59", true},
		{"00:00", "00:00", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"noon", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := parseHHMM(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseHHMM(%q) = %q,%v; want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
