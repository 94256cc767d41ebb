package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stayline/internal/entities"
	"stayline/internal/interfaces"
)

const whatsappAPIBase = "https://graph.facebook.com/v18.0"

// providerCallTimeout bounds every outbound provider HTTP call so a hung
// provider cannot stall webhook handling or the queue worker.
const providerCallTimeout = 15 * time.Second

// WhatsAppAdapter speaks the WhatsApp Business Cloud API: bearer-token HTTP
// on the way out, Graph-style webhook JSON on the way in.
type WhatsAppAdapter struct {
	cfg        entities.WhatsAppConfig
	httpClient *http.Client
}

func NewWhatsAppAdapter(cfg entities.WhatsAppConfig) *WhatsAppAdapter {
	return &WhatsAppAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: providerCallTimeout},
	}
}

func (w *WhatsAppAdapter) Channel() entities.Channel { return entities.ChannelWhatsApp }

func (w *WhatsAppAdapter) baseURL() string {
	if w.cfg.APIBaseURL != "" {
		return w.cfg.APIBaseURL
	}
	return whatsappAPIBase
}

// VerifyWebhook implements the hub.mode/hub.verify_token/hub.challenge
// subscribe handshake.
func (w *WhatsAppAdapter) VerifyWebhook(mode, token, challenge string) (string, error) {
	if mode == "subscribe" && token == w.cfg.VerifyToken {
		return challenge, nil
	}
	return "", entities.NewError(entities.ErrKindValidation, "whatsapp.verify", "verification token mismatch", nil)
}

// Webhook payload shapes (only the fields we read).
type waWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []waMessage `json:"messages"`
				Statuses []waStatus  `json:"statuses"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Image    *waMedia `json:"image"`
	Document *waMedia `json:"document"`
	Audio    *waMedia `json:"audio"`
	Video    *waMedia `json:"video"`
}

type waMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

type waStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Errors    []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

// Normalize extracts inbound messages from one webhook delivery. A delivery
// may batch several messages; malformed payloads yield zero events.
func (w *WhatsAppAdapter) Normalize(raw []byte, _ string) []entities.NormalizedMessage {
	var payload waWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	var out []entities.NormalizedMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			recipient := change.Value.Metadata.DisplayPhoneNumber
			profileNames := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				profileNames[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if m.From == "" || m.ID == "" {
					continue
				}
				nm := entities.NormalizedMessage{
					Channel:      entities.ChannelWhatsApp,
					ExternalID:   m.ID,
					Sender:       m.From,
					SenderName:   profileNames[m.From],
					Recipient:    recipient,
					RawTimestamp: m.Timestamp,
				}
				switch m.Type {
				case "text":
					if m.Text == nil {
						continue
					}
					nm.Kind = entities.KindText
					nm.Body = m.Text.Body
				case "button":
					if m.Button == nil {
						continue
					}
					nm.Kind = entities.KindButton
					nm.Body = m.Button.Text
				case "interactive":
					if m.Interactive == nil || m.Interactive.ButtonReply == nil {
						continue
					}
					nm.Kind = entities.KindInteractive
					nm.Body = m.Interactive.ButtonReply.Title
				case "image", "document", "audio", "video":
					media := m.Image
					if media == nil {
						media = m.Document
					}
					if media == nil {
						media = m.Audio
					}
					if media == nil {
						media = m.Video
					}
					if media == nil {
						continue
					}
					nm.Kind = entities.KindMedia
					nm.Body = media.Caption
					nm.MediaRef = media.ID
				default:
					continue
				}
				out = append(out, nm)
			}
		}
	}
	return out
}

// NormalizeReceipts extracts delivery/read status updates from a delivery.
func (w *WhatsAppAdapter) NormalizeReceipts(raw []byte, _ string) []entities.DeliveryReceipt {
	var payload waWebhook
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	var out []entities.DeliveryReceipt
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, s := range change.Value.Statuses {
				if s.ID == "" {
					continue
				}
				r := entities.DeliveryReceipt{
					ProviderMessageID: s.ID,
					Timestamp:         time.Now(),
				}
				switch s.Status {
				case "sent":
					r.Status = entities.StatusSent
				case "delivered":
					r.Status = entities.StatusDelivered
				case "read":
					r.Status = entities.StatusRead
				case "failed":
					r.Status = entities.StatusFailed
					if len(s.Errors) > 0 {
						r.ErrorCode = fmt.Sprintf("%d", s.Errors[0].Code)
						r.ErrorMessage = s.Errors[0].Title
					}
				default:
					continue
				}
				out = append(out, r)
			}
		}
	}
	return out
}

// Send posts a message to the Cloud API messaging endpoint.
func (w *WhatsAppAdapter) Send(ctx context.Context, recipient, body string, kind entities.MessageKind, opts interfaces.SendOptions) (string, error) {
	switch kind {
	case entities.KindMedia:
		return w.SendMedia(ctx, recipient, opts.MediaRef, opts.MediaCaption)
	case entities.KindInteractive, entities.KindButton:
		return w.SendButtons(ctx, recipient, body, opts.Buttons)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	if opts.ReplyToID != "" {
		payload["context"] = map[string]string{"message_id": opts.ReplyToID}
	}
	return w.post(ctx, "whatsapp.send", payload)
}

// SendTemplate sends a pre-approved template message.
func (w *WhatsAppAdapter) SendTemplate(ctx context.Context, recipient, name, lang string, args []string) (string, error) {
	params := make([]map[string]string, 0, len(args))
	for _, a := range args {
		params = append(params, map[string]string{"type": "text", "text": a})
	}
	template := map[string]any{
		"name":     name,
		"language": map[string]string{"code": lang},
	}
	if len(params) > 0 {
		template["components"] = []map[string]any{
			{"type": "body", "parameters": params},
		}
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "template",
		"template":          template,
	}
	return w.post(ctx, "whatsapp.send_template", payload)
}

// SendMedia sends an image by link. The Cloud API infers the media type from
// the payload key; image covers the hospitality use cases we have.
func (w *WhatsAppAdapter) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "image",
		"image":             map[string]string{"link": mediaRef, "caption": caption},
	}
	return w.post(ctx, "whatsapp.send_media", payload)
}

// SendButtons sends an interactive button message (max 3 buttons per the
// provider).
func (w *WhatsAppAdapter) SendButtons(ctx context.Context, recipient, body string, buttons []interfaces.Button) (string, error) {
	if len(buttons) > 3 {
		buttons = buttons[:3]
	}
	btns := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, map[string]any{
			"type":  "reply",
			"reply": map[string]string{"id": b.ID, "title": b.Title},
		})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]any{"buttons": btns},
		},
	}
	return w.post(ctx, "whatsapp.send_buttons", payload)
}

// MarkRead marks an inbound message as read.
func (w *WhatsAppAdapter) MarkRead(ctx context.Context, providerMessageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        providerMessageID,
	}
	_, err := w.post(ctx, "whatsapp.mark_read", payload)
	return err
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (w *WhatsAppAdapter) post(ctx context.Context, op string, payload any) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", w.baseURL(), w.cfg.PhoneNumberID)
	data, err := json.Marshal(payload)
	if err != nil {
		return "", entities.NewError(entities.ErrKindProvider, op, "encode payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", entities.NewError(entities.ErrKindProvider, op, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", entities.NewError(entities.ErrKindTimeout, op, "provider call timed out", err)
		}
		return "", entities.NewError(entities.ErrKindProvider, op, "provider call failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed waSendResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		ge := entities.NewError(entities.ErrKindProvider, op, msg, nil)
		ge.Permanent = permanentStatus(resp.StatusCode)
		return "", ge
	}

	if len(parsed.Messages) > 0 {
		return parsed.Messages[0].ID, nil
	}
	return "", nil
}

// permanentStatus: 4xx rejections (bad token, bad number, bad template) will
// not succeed on retry. 408 and 429 are the transient exceptions.
func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
