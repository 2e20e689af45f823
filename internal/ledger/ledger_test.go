package ledger

import "testing"

func TestDeriveBalance(t *testing.T) {
	tests := []struct {
		name             string
		credited         int64
		debited          int64
		inFlight         int64
		wantWithdrawable int64
		wantRaw          int64
	}{
		{"empty history", 0, 0, 0, 0, 0},
		{"only credits", 5_000_000_000, 0, 0, 5_000_000_000, 5_000_000_000},
		{"credits minus debits", 5_000_000_000, 2_000_000_000, 0, 3_000_000_000, 3_000_000_000},
		{"in-flight reserves balance", 5_000_000_000, 0, 4_000_000_000, 1_000_000_000, 1_000_000_000},
		{"fully reserved", 5_000_000_000, 2_000_000_000, 3_000_000_000, 0, 0},
		{"negative raw clamps to zero", 1_000_000_000, 2_000_000_000, 0, 0, -1_000_000_000},
		{"negative via in-flight", 1_000_000_000, 0, 1_500_000_000, 0, -500_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := derive(tt.credited, tt.debited, tt.inFlight)
			if b.WithdrawableNano != tt.wantWithdrawable {
				t.Errorf("WithdrawableNano = %d, want %d", b.WithdrawableNano, tt.wantWithdrawable)
			}
			if b.RawNano != tt.wantRaw {
				t.Errorf("RawNano = %d, want %d", b.RawNano, tt.wantRaw)
			}
			if b.CreditedNano != tt.credited || b.DebitedNano != tt.debited || b.InFlightNano != tt.inFlight {
				t.Errorf("component fields not preserved: %+v", b)
			}
		})
	}
}

func TestDeriveBalanceNeverNegativeWithdrawable(t *testing.T) {
	cases := [][3]int64{
		{0, 1, 0},
		{0, 0, 1},
		{100, 200, 300},
	}
	for _, c := range cases {
		if b := derive(c[0], c[1], c[2]); b.WithdrawableNano < 0 {
			t.Errorf("derive(%d, %d, %d).WithdrawableNano = %d, want >= 0", c[0], c[1], c[2], b.WithdrawableNano)
		}
	}
}
