package models

import "testing"

func TestIsValidTxTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{TxStatusPending, TxStatusAwaitingConfirmation, true},
		{TxStatusPending, TxStatusBlockedLiquidity, true},
		{TxStatusPending, TxStatusPartial, true},
		{TxStatusPending, TxStatusConfirmed, true},
		{TxStatusBlockedLiquidity, TxStatusPending, true},
		{TxStatusBlockedLiquidity, TxStatusAwaitingConfirmation, true},
		{TxStatusAwaitingConfirmation, TxStatusConfirmed, true},
		{TxStatusAwaitingConfirmation, TxStatusCompleted, true},
		{TxStatusPartial, TxStatusPartial, true},
		{TxStatusPartial, TxStatusConfirmed, true},
		{TxStatusConfirmed, TxStatusCompleted, true},

		// Failure paths
		{TxStatusPending, TxStatusFailed, true},
		{TxStatusPending, TxStatusCanceled, true},
		{TxStatusBlockedLiquidity, TxStatusCanceled, true},
		{TxStatusAwaitingConfirmation, TxStatusFailed, true},
		{TxStatusConfirmed, TxStatusFailed, true},

		// No regressions
		{TxStatusCompleted, TxStatusPending, false},
		{TxStatusCompleted, TxStatusFailed, false},
		{TxStatusFailed, TxStatusPending, false},
		{TxStatusCanceled, TxStatusPending, false},
		{TxStatusConfirmed, TxStatusPending, false},
		{TxStatusAwaitingConfirmation, TxStatusPending, false},
		{TxStatusRefunded, TxStatusCompleted, false},
		{TxStatusAwaitingConfirmation, TxStatusBlockedLiquidity, false},
		{"nonexistent", TxStatusPending, false},
		{TxStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTxTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTxTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestCheckTxTransitionRaises(t *testing.T) {
	if err := CheckTxTransition(TxStatusCompleted, TxStatusPending); err == nil {
		t.Error("expected error for completed -> pending, got nil")
	}
	if err := CheckTxTransition(TxStatusPending, TxStatusAwaitingConfirmation); err != nil {
		t.Errorf("unexpected error for pending -> awaiting_confirmation: %v", err)
	}
}

func TestIsTxInFlight(t *testing.T) {
	inFlight := []string{TxStatusPending, TxStatusBlockedLiquidity, TxStatusAwaitingConfirmation, TxStatusConfirmed}
	for _, s := range inFlight {
		if !IsTxInFlight(s) {
			t.Errorf("status %q should be in-flight", s)
		}
	}
	settled := []string{TxStatusCompleted, TxStatusFailed, TxStatusCanceled, TxStatusPartial, TxStatusRefunded}
	for _, s := range settled {
		if IsTxInFlight(s) {
			t.Errorf("status %q should not be in-flight", s)
		}
	}
}

func TestTerminalTxStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{TxStatusCompleted, TxStatusFailed, TxStatusCanceled, TxStatusRefunded}
	for _, status := range terminal {
		if transitions := ValidTxTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestIsValidTransferTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{TransferStatusCreated, TransferStatusPending, true},
		{TransferStatusCreated, TransferStatusBroadcasted, true},
		{TransferStatusCreated, TransferStatusSimulated, true},
		{TransferStatusPending, TransferStatusBroadcasted, true},
		{TransferStatusPending, TransferStatusSimulated, true},
		{TransferStatusPending, TransferStatusCompleted, true},
		{TransferStatusBroadcasted, TransferStatusConfirmed, true},
		{TransferStatusBroadcasted, TransferStatusCompleted, true},
		{TransferStatusSimulated, TransferStatusCompleted, true},
		{TransferStatusConfirmed, TransferStatusCompleted, true},

		{TransferStatusCreated, TransferStatusFailed, true},
		{TransferStatusPending, TransferStatusFailed, true},
		{TransferStatusBroadcasted, TransferStatusFailed, true},

		{TransferStatusCompleted, TransferStatusFailed, false},
		{TransferStatusFailed, TransferStatusPending, false},
		{TransferStatusConfirmed, TransferStatusBroadcasted, false},
		{TransferStatusSimulated, TransferStatusFailed, false},
		{TransferStatusBroadcasted, TransferStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransferTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransferTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}
