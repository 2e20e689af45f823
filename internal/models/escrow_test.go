package models

import "testing"

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Funding path
		{EscrowStatusCreated, EscrowStatusPaidPartial, true},
		{EscrowStatusCreated, EscrowStatusPaidHeld, true},
		{EscrowStatusPaidPartial, EscrowStatusPaidPartial, true},
		{EscrowStatusPaidPartial, EscrowStatusPaidHeld, true},

		// Settlement branches
		{EscrowStatusPaidHeld, EscrowStatusPayoutPending, true},
		{EscrowStatusPaidHeld, EscrowStatusRefundPending, true},
		{EscrowStatusPayoutPending, EscrowStatusPaidOut, true},
		{EscrowStatusRefundPending, EscrowStatusRefunded, true},

		// Failed reachable from every non-terminal state
		{EscrowStatusCreated, EscrowStatusFailed, true},
		{EscrowStatusPaidPartial, EscrowStatusFailed, true},
		{EscrowStatusPaidHeld, EscrowStatusFailed, true},
		{EscrowStatusPayoutPending, EscrowStatusFailed, true},
		{EscrowStatusRefundPending, EscrowStatusFailed, true},

		// Exactly one terminal branch, no crossings, no regressions
		{EscrowStatusPayoutPending, EscrowStatusRefundPending, false},
		{EscrowStatusRefundPending, EscrowStatusPayoutPending, false},
		{EscrowStatusPaidOut, EscrowStatusRefunded, false},
		{EscrowStatusRefunded, EscrowStatusPaidOut, false},
		{EscrowStatusPaidOut, EscrowStatusFailed, false},
		{EscrowStatusRefunded, EscrowStatusFailed, false},
		{EscrowStatusPaidHeld, EscrowStatusCreated, false},
		{EscrowStatusPayoutPending, EscrowStatusPaidHeld, false},
		{EscrowStatusCreated, EscrowStatusPaidOut, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidEscrowTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidEscrowTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestEscrowTerminalStatuses(t *testing.T) {
	terminal := []string{EscrowStatusPaidOut, EscrowStatusRefunded, EscrowStatusFailed}
	for _, status := range terminal {
		if transitions := ValidEscrowTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestDealTransitions(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{DealStatusCreated, DealStatusAwaitingPayment, true},
		{DealStatusAwaitingPayment, DealStatusFunded, true},
		{DealStatusFunded, DealStatusPosted, true},
		{DealStatusPosted, DealStatusHoldVerification, true},
		{DealStatusHoldVerification, DealStatusDelivered, true},
		{DealStatusDelivered, DealStatusCompleted, true},
		{DealStatusHoldVerification, DealStatusCancelled, true},
		{DealStatusCancelled, DealStatusRefunded, true},

		{DealStatusCompleted, DealStatusRefunded, false},
		{DealStatusRefunded, DealStatusCompleted, false},
		{DealStatusPosted, DealStatusCancelled, false},
		{DealStatusDelivered, DealStatusCancelled, false},
		{DealStatusCreated, DealStatusFunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsValidTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}
