package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ai-subscription-payments/internal/domain/model"
	"ai-subscription-payments/internal/domain/ports/adapter"
	"ai-subscription-payments/internal/infra/gateway"
)

var _ adapter.PaymentNotifier = (*TelegramNotifier)(nil)

// TelegramNotifier posts a short summary to the configured admin chats when a
// payment first succeeds. Delivery is best-effort.
type TelegramNotifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	log     *zerolog.Logger
}

func NewTelegramNotifier(token string, chatIDs []int64, log *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs, log: log}, nil
}

func (n *TelegramNotifier) NotifyPaymentSucceeded(ctx context.Context, rec *model.PaymentRecord, plan *model.SubscriptionPlan) error {
	planName := "-"
	if plan != nil {
		planName = plan.Name
	}
	text := fmt.Sprintf(
		"✅ Payment succeeded\nProvider: %s\nAmount: %s %s\nPlan: %s\nUser: %s\nOrder: %s",
		rec.Provider,
		gateway.FormatAmount(gateway.FromMinorUnits(rec.Amount, rec.Currency), rec.Currency), rec.Currency,
		planName, rec.UserID, rec.PaymentID,
	)
	for _, id := range n.chatIDs {
		msg := tgbotapi.NewMessage(id, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.log.Warn().Err(err).Int64("chat_id", id).Msg("telegram notify failed")
		}
	}
	return nil
}
