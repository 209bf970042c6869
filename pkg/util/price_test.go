package util

import "testing"

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0.0000023, "$0.0000023"},
		{0.01223, "$0.01223"},
		{0.05, "$0.05"},
		{0.1234, "$0.1234"},
		{1.234, "$1.234"},
		{15.67, "$15.67"},
		{1234.56, "$1,234.56"},
		{68123.4, "$68,123.40"},
	}
	for _, c := range cases {
		if got := FormatPrice(c.in); got != c.want {
			t.Errorf("FormatPrice(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}
