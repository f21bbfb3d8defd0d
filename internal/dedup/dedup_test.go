package dedup

import (
	"encoding/json"
	"testing"
)

func TestAcceptFiltersExistingAndRepeats(t *testing.T) {
	s := New()
	s.Initialize([]string{"R100", " R100 ", ""})

	if s.Existing() != 1 {
		t.Fatalf("expected 1 existing id, got %d", s.Existing())
	}

	var accepted []string
	for _, id := range []string{"R100", "R101", "R102", "R101"} {
		if s.Accept(id) {
			accepted = append(accepted, id)
		}
	}
	if len(accepted) != 2 || accepted[0] != "R101" || accepted[1] != "R102" {
		t.Fatalf("unexpected accepted ids %v", accepted)
	}
	if s.Len() != 3 {
		t.Fatalf("expected set to hold 3 ids, got %d", s.Len())
	}
}

func TestAcceptNormalizesNumericIDs(t *testing.T) {
	s := New()
	s.Initialize([]string{"1234567890123"})

	var decoded map[string]any
	if err := json.Unmarshal([]byte(`{"cmtid": 1234567890123}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Accept(decoded["cmtid"]) {
		t.Fatalf("float64 id should match its string form")
	}
	if s.Accept(int64(1234567890123)) {
		t.Fatalf("int64 id should match its string form")
	}
	if !s.Accept(json.Number("42")) {
		t.Fatalf("expected new json.Number id to be accepted")
	}
	if s.Accept("42") {
		t.Fatalf("json.Number and string forms should collide")
	}
}

func TestSeenDoesNotRecord(t *testing.T) {
	s := New()
	if s.Seen("a") {
		t.Fatalf("empty set reported a as seen")
	}
	if !s.Accept("a") {
		t.Fatalf("expected a to be accepted")
	}
	if !s.Seen("a") {
		t.Fatalf("expected a to be seen after Accept")
	}
	if s.Accept(nil) || s.Accept("  ") {
		t.Fatalf("empty ids must never be accepted")
	}
}

func TestNormalizeID(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"  abc ", "abc"},
		{"123.0", "123"},
		{"12.5", "12.5"},
		{float64(7), "7"},
		{float64(7.25), "7.25"},
		{int(9), "9"},
		{uint64(10), "10"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := NormalizeID(tc.in); got != tc.want {
			t.Errorf("NormalizeID(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestForgetReleasesRunIDsOnly(t *testing.T) {
	s := New()
	s.Initialize([]string{"R1"})
	s.Accept("R2")
	s.Accept(int64(3))

	s.Forget("R1", "R2", 3.0, "")

	if !s.Seen("R1") {
		t.Fatalf("ids loaded from the destination must stay")
	}
	if s.Seen("R2") || s.Seen("3") {
		t.Fatalf("forgotten ids must leave the set")
	}
	if !s.Accept("R2") {
		t.Fatalf("forgotten id should be accepted again")
	}
	if s.Existing() != 1 || s.Len() != 2 {
		t.Fatalf("unexpected counts existing=%d len=%d", s.Existing(), s.Len())
	}
}
