package amount

import "testing"

func TestRoundTrip(t *testing.T) {
	for _, d := range []int{0, 1, 2, 3} {
		for _, n := range []uint64{0, 1, 9, 42, 1000, 999999999, 1000000000} {
			s := Reconvert(n, d)
			got := Convert(s, d)
			if got != n {
				t.Errorf("d=%d n=%d: Reconvert=%q Convert back=%d", d, n, s, got)
			}
		}
	}
}

func TestConvertInvalid(t *testing.T) {
	cases := []struct {
		s string
		d int
	}{
		{"-1", 2},
		{"1..0", 2},
		{"1.234", 2},
		{"abc", 2},
		{"1.5", 0},
	}
	for _, c := range cases {
		if got := Convert(c.s, c.d); got != 0 {
			t.Errorf("Convert(%q, %d) = %d, want 0", c.s, c.d, got)
		}
	}
}

func TestConvertOverflow(t *testing.T) {
	if got := Convert("99999999999999999999999", 0); got != 0 {
		t.Errorf("Convert(huge) = %d, want 0 on overflow", got)
	}
}

func TestConvertKnown(t *testing.T) {
	if got := Convert("10.42", 2); got != 1042 {
		t.Errorf("Convert(10.42, 2) = %d, want 1042", got)
	}
	if got := Convert("20", 2); got != 2000 {
		t.Errorf("Convert(20, 2) = %d, want 2000", got)
	}
}
