package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		in   string
		def  int
		want int
	}{
		{"", 7, 7},
		{"42", 7, 42},
		{"-3", 7, -3},
		{"abc", 7, 7},
		{"4.5", 7, 7},
	}
	for _, tc := range cases {
		if got := AtoiDefault(tc.in, tc.def); got != tc.want {
			t.Errorf("AtoiDefault(%q, %d) = %d, want %d", tc.in, tc.def, got, tc.want)
		}
	}
}

func TestClampPageSize(t *testing.T) {
	cases := []struct {
		requested, def, max, want int
	}{
		{0, 20, 100, 20},
		{-5, 20, 100, 20},
		{50, 20, 100, 50},
		{500, 20, 100, 100},
		{100, 20, 100, 100},
	}
	for _, tc := range cases {
		if got := ClampPageSize(tc.requested, tc.def, tc.max); got != tc.want {
			t.Errorf("ClampPageSize(%d, %d, %d) = %d, want %d", tc.requested, tc.def, tc.max, got, tc.want)
		}
	}
}
