package services

import "testing"

func TestSweepableAmount(t *testing.T) {
	const gas = 50_000_000 // 0.05 TON

	tests := []struct {
		name     string
		balance  int64
		deployed bool
		want     int64
	}{
		{"deployed keeps one gas reserve", 1_000_000_000, true, 950_000_000},
		{"undeployed keeps double reserve", 1_000_000_000, false, 900_000_000},
		{"exactly the reserve yields zero", gas, true, 0},
		{"below reserve clamps to zero", 10_000_000, true, 0},
		{"undeployed below double reserve clamps", 80_000_000, false, 0},
		{"empty wallet", 0, true, 0},
		{"empty undeployed wallet", 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SweepableAmount(tt.balance, gas, tt.deployed)
			if got != tt.want {
				t.Errorf("SweepableAmount(%d, %d, %v) = %d, want %d",
					tt.balance, int64(gas), tt.deployed, got, tt.want)
			}
			if got < 0 {
				t.Errorf("sweepable amount went negative: %d", got)
			}
		})
	}
}
