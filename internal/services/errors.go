package services

import "fmt"

// CodedError carries a stable machine-readable code to the API layer; the
// HTTP handlers map codes to status and clients branch on them.
type CodedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func coded(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

var (
	ErrWalletNotConnected    = coded("WALLET_NOT_CONNECTED", "no verified wallet connected")
	ErrInvalidAmount         = coded("INVALID_AMOUNT", "amount must be a positive integer in nanoTON")
	ErrInsufficientBalance   = coded("INSUFFICIENT_BALANCE", "amount exceeds withdrawable balance")
	ErrInsufficientLiquidity = coded("INSUFFICIENT_LIQUIDITY", "hot wallet cannot cover this payout right now")
	ErrPayoutInvalid         = coded("PAYOUT_INVALID", "payout record failed validation")
	ErrDealNotFound          = coded("DEAL_NOT_FOUND", "deal does not exist")
	ErrForbidden             = coded("FORBIDDEN", "not allowed for this user")
	ErrInternal              = coded("INTERNAL_ERROR", "internal error")
)
