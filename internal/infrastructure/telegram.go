package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stayline/internal/entities"
	"stayline/internal/interfaces"
)

// TelegramAdapter drives a per-business Telegram bot in webhook mode.
// Telegram has neither a verify handshake, message templates, nor delivery
// receipts; those operations return unsupported so callers can branch.
type TelegramAdapter struct {
	cfg entities.TelegramConfig
	bot *tgbotapi.BotAPI
}

func NewTelegramAdapter(cfg entities.TelegramConfig) *TelegramAdapter {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		// Keep the adapter alive for inbound normalization; sends will
		// report a config error until the token is fixed.
		log.Printf("[TELEGRAM] bot token issue, sends disabled: %v", err)
		bot = nil
	}
	return &TelegramAdapter{cfg: cfg, bot: bot}
}

func (t *TelegramAdapter) Channel() entities.Channel { return entities.ChannelTelegram }

func (t *TelegramAdapter) VerifyWebhook(mode, token, challenge string) (string, error) {
	return "", entities.NewError(entities.ErrKindUnsupported, "telegram.verify", "telegram has no verify handshake", nil)
}

// Normalize parses a webhook Update. Text messages map to text, callback
// queries (inline keyboard presses) map to the button kind.
func (t *TelegramAdapter) Normalize(raw []byte, _ string) []entities.NormalizedMessage {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return nil
	}

	if update.Message != nil && update.Message.Text != "" {
		return []entities.NormalizedMessage{{
			Channel:      entities.ChannelTelegram,
			ExternalID:   strconv.Itoa(update.Message.MessageID),
			Sender:       strconv.FormatInt(update.Message.Chat.ID, 10),
			SenderName:   userName(update.Message.From),
			Kind:         entities.KindText,
			Body:         update.Message.Text,
			RawTimestamp: strconv.Itoa(update.Message.Date),
		}}
	}

	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
		return []entities.NormalizedMessage{{
			Channel:    entities.ChannelTelegram,
			ExternalID: update.CallbackQuery.ID,
			Sender:     strconv.FormatInt(update.CallbackQuery.Message.Chat.ID, 10),
			SenderName: userName(update.CallbackQuery.From),
			Kind:       entities.KindButton,
			Body:       update.CallbackQuery.Data,
		}}
	}

	return nil
}

func userName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

// NormalizeReceipts: Telegram does not deliver per-message status callbacks.
func (t *TelegramAdapter) NormalizeReceipts(raw []byte, _ string) []entities.DeliveryReceipt {
	return nil
}

func (t *TelegramAdapter) Send(ctx context.Context, recipient, body string, kind entities.MessageKind, opts interfaces.SendOptions) (string, error) {
	switch kind {
	case entities.KindMedia:
		return t.SendMedia(ctx, recipient, opts.MediaRef, opts.MediaCaption)
	case entities.KindInteractive, entities.KindButton:
		return t.SendButtons(ctx, recipient, body, opts.Buttons)
	}

	chatID, err := t.chatID(recipient)
	if err != nil {
		return "", err
	}
	if t.bot == nil {
		return "", entities.NewError(entities.ErrKindConfig, "telegram.send", "bot not connected", nil)
	}

	msg := tgbotapi.NewMessage(chatID, body)
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", entities.NewError(entities.ErrKindProvider, "telegram.send", "sendMessage failed", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *TelegramAdapter) SendTemplate(ctx context.Context, recipient, name, lang string, args []string) (string, error) {
	return "", entities.NewError(entities.ErrKindUnsupported, "telegram.send_template", "telegram does not support message templates", nil)
}

func (t *TelegramAdapter) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	chatID, err := t.chatID(recipient)
	if err != nil {
		return "", err
	}
	if t.bot == nil {
		return "", entities.NewError(entities.ErrKindConfig, "telegram.send_media", "bot not connected", nil)
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(mediaRef))
	photo.Caption = caption
	sent, err := t.bot.Send(photo)
	if err != nil {
		return "", entities.NewError(entities.ErrKindProvider, "telegram.send_media", "sendPhoto failed", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *TelegramAdapter) SendButtons(ctx context.Context, recipient, body string, buttons []interfaces.Button) (string, error) {
	chatID, err := t.chatID(recipient)
	if err != nil {
		return "", err
	}
	if t.bot == nil {
		return "", entities.NewError(entities.ErrKindConfig, "telegram.send_buttons", "bot not connected", nil)
	}

	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Title, b.ID))
	}
	msg := tgbotapi.NewMessage(chatID, body)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", entities.NewError(entities.ErrKindProvider, "telegram.send_buttons", "sendMessage failed", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *TelegramAdapter) MarkRead(ctx context.Context, providerMessageID string) error {
	return entities.NewError(entities.ErrKindUnsupported, "telegram.mark_read", "telegram does not support read receipts", nil)
}

func (t *TelegramAdapter) chatID(recipient string) (int64, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return 0, entities.NewError(entities.ErrKindValidation, "telegram.send", fmt.Sprintf("recipient %q is not a chat id", recipient), err)
	}
	return chatID, nil
}
