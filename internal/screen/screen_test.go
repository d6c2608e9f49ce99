package screen

import "testing"

func TestWordListFlag(t *testing.T) {
	s := NewWordList([]string{"Badword", " idiot ", ""})

	cases := []struct {
		content string
		want    bool
	}{
		{"", false},
		{"perfectly fine", false},
		{"contains badword here", true},
		{"CONTAINS BADWORD HERE", true},
		{"you IdIoT", true},
		{"bad word split", false},
	}
	for _, c := range cases {
		if got := s.Flag(c.content); got != c.want {
			t.Fatalf("Flag(%q) = %v, want %v", c.content, got, c.want)
		}
	}
}

func TestNoneNeverFlags(t *testing.T) {
	var s None
	if s.Flag("badword everywhere") {
		t.Fatal("None must never flag")
	}
}
