package services

import (
	"testing"

	"github.com/google/uuid"
)

func TestPlatformFeeNano(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    int
		want   int64
	}{
		{"3 percent of 10 TON", 10_000_000_000, 300, 300_000_000},
		{"zero fee", 10_000_000_000, 0, 0},
		{"full amount at 100 percent", 1_000_000_000, 10_000, 1_000_000_000},
		{"rounds down", 333, 300, 9},
		{"tiny amount rounds to zero", 3, 300, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlatformFeeNano(tt.amount, tt.bps); got != tt.want {
				t.Errorf("PlatformFeeNano(%d, %d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
			}
		})
	}
}

func TestSettlementKeyStablePerDeal(t *testing.T) {
	dealID := uuid.MustParse("44444444-4444-4444-4444-444444444444")

	if settlementKey("payout", dealID) != settlementKey("payout", dealID) {
		t.Error("payout key not deterministic")
	}
	if settlementKey("payout", dealID) == settlementKey("refund", dealID) {
		t.Error("payout and refund keys collided for the same deal")
	}
	if settlementKey("payout", dealID) == settlementKey("payout", uuid.New()) {
		t.Error("different deals produced the same payout key")
	}
}
