// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pathcodec

import "testing"

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain",
		"with/slash",
		`with\backslash`,
		"with-dash",
		"mixed/-\\--combo",
		"endpoint-A--v2",
	}
	for _, s := range cases {
		escaped := Escape(s)
		got, err := Unescape(escaped)
		if err != nil {
			t.Fatalf("Unescape(Escape(%q)) error: %v", s, err)
		}
		if got != s {
			t.Errorf("round-trip mismatch: got %q, want %q (escaped=%q)", got, s, escaped)
		}
	}
}

func TestUnescapeRejectsDanglingEscape(t *testing.T) {
	if _, err := Unescape("abc-"); err == nil {
		t.Error("expected error for dangling escape")
	}
}

func TestUnescapeRejectsUnknownEscape(t *testing.T) {
	if _, err := Unescape("abc-Z"); err == nil {
		t.Error("expected error for unknown escape sequence")
	}
}

func TestDistinctSegmentsNeverCollide(t *testing.T) {
	a := Escape("foo/bar")
	b := Escape("foo-Xbar")
	if a == b {
		t.Errorf("distinct raw segments produced the same escaped form: %q", a)
	}
}

func TestJoinSplitRoundTrip(t *testing.T) {
	p := Join("", Escape("routes"))
	p = Join(p, Escape("my/route"))
	p = Join(p, Escape("end-point"))

	segs, err := SplitRaw(p)
	if err != nil {
		t.Fatalf("SplitRaw: %v", err)
	}
	want := []string{"routes", "my/route", "end-point"}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d: %v", len(segs), len(want), segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d: got %q, want %q", i, segs[i], want[i])
		}
	}
}

func TestSplitEmptyPath(t *testing.T) {
	if got := Split(""); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
	if got := Split("/"); got != nil {
		t.Errorf("Split(\"/\") = %v, want nil", got)
	}
}
