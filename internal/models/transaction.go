package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction types
const (
	TxTypeDeposit    = "deposit"
	TxTypePayout     = "payout"
	TxTypeRefund     = "refund"
	TxTypeSweep      = "sweep"
	TxTypeFee        = "fee"
	TxTypeNetworkFee = "network_fee"
)

// Transaction directions
const (
	TxDirectionIn  = "in"
	TxDirectionOut = "out"
)

// Transaction statuses
const (
	TxStatusPending              = "pending"
	TxStatusBlockedLiquidity     = "blocked_liquidity"
	TxStatusAwaitingConfirmation = "awaiting_confirmation"
	TxStatusPartial              = "partial"
	TxStatusConfirmed            = "confirmed"
	TxStatusCompleted            = "completed"
	TxStatusFailed               = "failed"
	TxStatusCanceled             = "canceled"
	TxStatusRefunded             = "refunded"
)

// Допустимые переходы статусов финансовых записей. Любой переход вне
// этой таблицы — ошибка, записи никогда не двигаются назад.
var ValidTxTransitions = map[string][]string{
	TxStatusPending: {
		TxStatusAwaitingConfirmation, TxStatusBlockedLiquidity,
		TxStatusPartial, TxStatusConfirmed, TxStatusCompleted,
		TxStatusFailed, TxStatusCanceled,
	},
	TxStatusBlockedLiquidity: {
		TxStatusPending, TxStatusAwaitingConfirmation,
		TxStatusFailed, TxStatusCanceled,
	},
	TxStatusAwaitingConfirmation: {TxStatusConfirmed, TxStatusCompleted, TxStatusFailed},
	// Partial re-enters itself while deposits accumulate.
	TxStatusPartial:   {TxStatusPartial, TxStatusConfirmed, TxStatusFailed},
	TxStatusConfirmed: {TxStatusCompleted, TxStatusFailed},
	TxStatusCompleted: {},
	TxStatusFailed:    {},
	TxStatusCanceled:  {},
	TxStatusRefunded:  {},
}

func IsValidTxTransition(from, to string) bool {
	allowed, ok := ValidTxTransitions[from]
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

// CheckTxTransition returns an error for any edge outside the allow-list.
func CheckTxTransition(from, to string) error {
	if !IsValidTxTransition(from, to) {
		return fmt.Errorf("invalid transaction transition from %s to %s", from, to)
	}
	return nil
}

// IsTxInFlight reports whether an OUT record still reserves balance.
func IsTxInFlight(status string) bool {
	switch status {
	case TxStatusPending, TxStatusBlockedLiquidity, TxStatusAwaitingConfirmation, TxStatusConfirmed:
		return true
	}
	return false
}

// Transaction — append-mostly ledger row. Amounts are integer nanoTON,
// created once and mutated forward-only through the status machine.
type Transaction struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	Type           string     `json:"type"`
	Direction      string     `json:"direction"`
	Status         string     `json:"status"`
	AmountNano     int64      `json:"amount_nano"`
	Currency       string     `json:"currency"`
	DealID         *uuid.UUID `json:"deal_id,omitempty"`
	Address        *string    `json:"address,omitempty"` // deposit or destination
	TxHash         *string    `json:"tx_hash,omitempty"` // on-chain hash, globally unique when set
	IdempotencyKey string     `json:"idempotency_key"`
	TransferID     *uuid.UUID `json:"transfer_id,omitempty"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"` // fee records reference their payout
	ExpectedNano   *int64     `json:"expected_nano,omitempty"`
	ReceivedNano   int64      `json:"received_nano"`
	ErrorText      *string    `json:"error_text,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}
