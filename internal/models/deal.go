package models

import (
	"time"

	"github.com/google/uuid"
)

// Deal statuses — trimmed to the escrow/settlement lifecycle.
const (
	DealStatusCreated          = "created"
	DealStatusAwaitingPayment  = "awaiting_payment"
	DealStatusFunded           = "funded"
	DealStatusPosted           = "posted"
	DealStatusHoldVerification = "hold_verification"
	DealStatusDelivered        = "delivered"
	DealStatusCompleted        = "completed"
	DealStatusCancelled        = "cancelled"
	DealStatusRefunded         = "refunded"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	DealStatusCreated:          {DealStatusAwaitingPayment, DealStatusCancelled},
	DealStatusAwaitingPayment:  {DealStatusFunded, DealStatusCancelled},
	DealStatusFunded:           {DealStatusPosted, DealStatusCancelled},
	DealStatusPosted:           {DealStatusHoldVerification},
	DealStatusHoldVerification: {DealStatusDelivered, DealStatusCancelled},
	DealStatusDelivered:        {DealStatusCompleted},
	DealStatusCompleted:        {},
	DealStatusCancelled:        {DealStatusRefunded},
	DealStatusRefunded:         {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
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

type Deal struct {
	ID                uuid.UUID  `json:"id"`
	ChannelUsername   string     `json:"channel_username"`
	AdvertiserUserID  uuid.UUID  `json:"advertiser_user_id"`
	OwnerUserID       uuid.UUID  `json:"owner_user_id"` // publisher receiving the payout
	Status            string     `json:"status"`
	PriceNano         int64      `json:"price_nano"`
	PlatformFeeBPS    int        `json:"platform_fee_bps"`
	HoldPeriodSeconds int        `json:"hold_period_seconds"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DealPost tracks the published placement for delivery verification.
type DealPost struct {
	ID                uuid.UUID  `json:"id"`
	DealID            uuid.UUID  `json:"deal_id"`
	TelegramMessageID *int64     `json:"telegram_message_id,omitempty"`
	PostURL           *string    `json:"post_url,omitempty"`
	ContentHash       *string    `json:"content_hash,omitempty"`
	PostedAt          *time.Time `json:"posted_at,omitempty"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	IsDeleted         bool       `json:"is_deleted"`
	IsEdited          bool       `json:"is_edited"`
}
