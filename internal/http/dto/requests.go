package dto

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}

type CreateDealRequest struct {
	ChannelUsername string `json:"channel_username"`
	OwnerUserID     string `json:"owner_user_id"`
	PriceTON        string `json:"price_ton"` // decimal string, parsed to nanoTON
}

// WithdrawRequest — сумма строкой в TON либо "all".
type WithdrawRequest struct {
	AmountTON      string `json:"amount_ton"`
	All            bool   `json:"all,omitempty"`
	Destination    string `json:"destination,omitempty"`     // по умолчанию — подключённый кошелёк
	IdempotencyKey string `json:"idempotency_key,omitempty"` // повтор с тем же ключом вернёт ту же запись
}

type MarkPostedRequest struct {
	TelegramMessageID int64  `json:"telegram_message_id"`
	PostURL           string `json:"post_url,omitempty"`
	ContentHash       string `json:"content_hash,omitempty"`
}
