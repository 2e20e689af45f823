package services

import (
	"context"

	"github.com/google/uuid"
)

// Notifier delivers user-facing messages. All call sites are fire-and-forget:
// notification failures never fail the money flow.
type Notifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, text string) error
	NotifyChat(ctx context.Context, chatID int64, text string) error
}

// BotNotifier resolves internal user IDs to Telegram IDs and delivers
// through the bot internal API.
type BotNotifier struct {
	bot   *BotClient
	users UserResolver
}

// UserResolver maps an internal user ID to its Telegram chat.
type UserResolver interface {
	GetTelegramID(ctx context.Context, userID uuid.UUID) (int64, error)
}

func NewBotNotifier(bot *BotClient, users UserResolver) *BotNotifier {
	return &BotNotifier{bot: bot, users: users}
}

func (n *BotNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, text string) error {
	tgID, err := n.users.GetTelegramID(ctx, userID)
	if err != nil {
		return err
	}
	return n.bot.SendNotification(ctx, tgID, text)
}

func (n *BotNotifier) NotifyChat(ctx context.Context, chatID int64, text string) error {
	return n.bot.SendNotification(ctx, chatID, text)
}
