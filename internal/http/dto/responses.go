package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type BalanceResponse struct {
	WithdrawableTON  string `json:"withdrawable_ton"`
	WithdrawableNano int64  `json:"withdrawable_nano"`
	InFlightNano     int64  `json:"in_flight_nano"`
}

type WithdrawResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	AmountTON     string `json:"amount_ton"`
	AmountNano    int64  `json:"amount_nano"`
}

type PaymentInfoResponse struct {
	DealID         string `json:"deal_id"`
	DepositAddress string `json:"deposit_address"`
	ExpectedTON    string `json:"expected_ton"`
	PaidTON        string `json:"paid_ton"`
	Status         string `json:"status"`
	Deadline       string `json:"deadline,omitempty"`
}
