package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EscrowStatusCreated       = "created"
	EscrowStatusPaidPartial   = "paid_partial"
	EscrowStatusPaidHeld      = "paid_held"
	EscrowStatusPayoutPending = "payout_pending"
	EscrowStatusRefundPending = "refund_pending"
	EscrowStatusPaidOut       = "paid_out"
	EscrowStatusRefunded      = "refunded"
	EscrowStatusFailed        = "failed"
)

var ValidEscrowTransitions = map[string][]string{
	EscrowStatusCreated:       {EscrowStatusPaidPartial, EscrowStatusPaidHeld, EscrowStatusRefundPending, EscrowStatusFailed},
	EscrowStatusPaidPartial:   {EscrowStatusPaidPartial, EscrowStatusPaidHeld, EscrowStatusRefundPending, EscrowStatusFailed},
	EscrowStatusPaidHeld:      {EscrowStatusPayoutPending, EscrowStatusRefundPending, EscrowStatusFailed},
	EscrowStatusPayoutPending: {EscrowStatusPaidOut, EscrowStatusFailed},
	EscrowStatusRefundPending: {EscrowStatusRefunded, EscrowStatusFailed},
	EscrowStatusPaidOut:       {},
	EscrowStatusRefunded:      {},
	EscrowStatusFailed:        {},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
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

func CheckEscrowTransition(from, to string) error {
	if !IsValidEscrowTransition(from, to) {
		return fmt.Errorf("invalid escrow transition from %s to %s", from, to)
	}
	return nil
}

// Escrow — custody state, one per deal. PayoutTxID и RefundTxID взаимно
// исключают друг друга: установленный однажды указатель не очищается,
// этим обеспечивается ровно одна терминальная ветка.
type Escrow struct {
	ID                 uuid.UUID  `json:"id"`
	DealID             uuid.UUID  `json:"deal_id"`
	Status             string     `json:"status"`
	AmountExpectedNano int64      `json:"amount_expected_nano"`
	AmountPaidNano     int64      `json:"amount_paid_nano"`
	DepositWalletID    uuid.UUID  `json:"deposit_wallet_id"`
	PaymentDeadline    *time.Time `json:"payment_deadline,omitempty"`
	PayoutTxID         *uuid.UUID `json:"payout_tx_id,omitempty"`
	RefundTxID         *uuid.UUID `json:"refund_tx_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
