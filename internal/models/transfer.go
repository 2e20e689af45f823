package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transfer types
const (
	TransferTypePayout         = "payout"
	TransferTypeRefund         = "refund"
	TransferTypeSweepToHot     = "sweep_to_hot"
	TransferTypeWithdrawToUser = "withdraw_to_user"
)

// Transfer statuses
const (
	TransferStatusCreated     = "created"
	TransferStatusPending     = "pending"
	TransferStatusBroadcasted = "broadcasted"
	TransferStatusSimulated   = "simulated" // dry-run, no network call happened
	TransferStatusConfirmed   = "confirmed"
	TransferStatusCompleted   = "completed"
	TransferStatusFailed      = "failed"
)

var ValidTransferTransitions = map[string][]string{
	TransferStatusCreated:     {TransferStatusPending, TransferStatusBroadcasted, TransferStatusSimulated, TransferStatusFailed},
	TransferStatusPending:     {TransferStatusBroadcasted, TransferStatusSimulated, TransferStatusCompleted, TransferStatusFailed},
	TransferStatusBroadcasted: {TransferStatusConfirmed, TransferStatusCompleted, TransferStatusFailed},
	TransferStatusSimulated:   {TransferStatusCompleted},
	TransferStatusConfirmed:   {TransferStatusCompleted},
	TransferStatusCompleted:   {},
	TransferStatusFailed:      {},
}

func IsValidTransferTransition(from, to string) bool {
	allowed, ok := ValidTransferTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func CheckTransferTransition(from, to string) error {
	if !IsValidTransferTransition(from, to) {
		return fmt.Errorf("invalid transfer transition from %s to %s", from, to)
	}
	return nil
}

// TonTransfer — one on-chain send/observe attempt, tied 1:1 by idempotency
// key to a financial record's execution. At most one non-failed transfer
// exists per key (partial unique index in the schema).
type TonTransfer struct {
	ID             uuid.UUID `json:"id"`
	FromAddr       string    `json:"from_addr"`
	ToAddr         string    `json:"to_addr"`
	AmountNano     int64     `json:"amount_nano"`
	Status         string    `json:"status"`
	Type           string    `json:"type"`
	TxHash         *string   `json:"tx_hash,omitempty"` // null until broadcast
	IdempotencyKey string    `json:"idempotency_key"`
	ErrorText      *string   `json:"error_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsTerminal reports whether the attempt can still change.
func (t *TonTransfer) IsTerminal() bool {
	return t.Status == TransferStatusCompleted || t.Status == TransferStatusFailed
}
