package ton

import "testing"

func TestParseNano(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"1", 1, false},
		{"1000000000", 1000000000, false},
		{"  42  ", 42, false},
		{"", 0, true},
		{"-1", 0, true},
		{"1.5", 0, true},
		{"1e9", 0, true},
		{"abc", 0, true},
		{"+5", 0, true},
		{"99999999999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNano(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNano(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseNano(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTON(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1", 1000000000, false},
		{"5.5", 5500000000, false},
		{"0.000000001", 1, false},
		{"0.1234567891", 123456789, false}, // extra digits truncated
		{"100", 100000000000, false},
		{"", 0, true},
		{"1.2.3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTON(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTON(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseTON(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatTON(t *testing.T) {
	tests := []struct {
		nano int64
		want string
	}{
		{0, "0"},
		{1000000000, "1"},
		{5500000000, "5.5"},
		{1, "0.000000001"},
		{123456789, "0.123456789"},
		{-2500000000, "-2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatTON(tt.nano); got != tt.want {
				t.Errorf("FormatTON(%d) = %q, want %q", tt.nano, got, tt.want)
			}
		})
	}
}
