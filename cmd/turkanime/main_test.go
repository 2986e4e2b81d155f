package main

import "testing"

func TestParseRate(t *testing.T) {
	cases := map[string]int64{
		"":          0,
		"2MiB/s":    2 << 20,
		"500KiB/s":  500 << 10,
		"1.5mb":     1500000,
		"4096":      4096,
		"fast":      0,
		"-3MiB/s":   0,
		" 1 GiB/s ": 1 << 30,
	}
	for in, want := range cases {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %d, want %d", in, got, want)
		}
	}
}
