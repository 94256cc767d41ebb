package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stayline/internal/entities"
	"stayline/internal/interfaces"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioAdapter speaks the Twilio Messages API: HTTP Basic auth
// (accountSid:authToken) with form-encoded bodies both ways.
type TwilioAdapter struct {
	cfg        entities.SMSConfig
	httpClient *http.Client
}

func NewTwilioAdapter(cfg entities.SMSConfig) *TwilioAdapter {
	return &TwilioAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: providerCallTimeout},
	}
}

func (t *TwilioAdapter) Channel() entities.Channel { return entities.ChannelSMS }

func (t *TwilioAdapter) baseURL() string {
	if t.cfg.APIBaseURL != "" {
		return t.cfg.APIBaseURL
	}
	return twilioAPIBase
}

// VerifyWebhook: Twilio has no challenge handshake; webhook URLs carry
// auth-token-signed requests instead.
func (t *TwilioAdapter) VerifyWebhook(mode, token, challenge string) (string, error) {
	return "", entities.NewError(entities.ErrKindUnsupported, "sms.verify", "sms channel has no verify handshake", nil)
}

// Normalize parses the form-encoded inbound webhook. One delivery carries at
// most one message; anything unparsable yields zero events.
func (t *TwilioAdapter) Normalize(raw []byte, contentType string) []entities.NormalizedMessage {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil
	}

	// Status callbacks share the form shape (MessageSid + From/To) but are
	// receipts, not guest traffic; NormalizeReceipts owns those. Inbound
	// webhooks carry SmsStatus=received instead of MessageStatus.
	if values.Get("MessageStatus") != "" {
		return nil
	}

	from := values.Get("From")
	body := values.Get("Body")
	sid := values.Get("MessageSid")
	if from == "" || sid == "" {
		return nil
	}

	nm := entities.NormalizedMessage{
		Channel:    entities.ChannelSMS,
		ExternalID: sid,
		Sender:     from,
		Recipient:  values.Get("To"),
		Kind:       entities.KindText,
		Body:       body,
	}
	if values.Get("NumMedia") != "" && values.Get("NumMedia") != "0" {
		nm.Kind = entities.KindMedia
		nm.MediaRef = values.Get("MediaUrl0")
	}
	return []entities.NormalizedMessage{nm}
}

// NormalizeReceipts parses the status callback form body.
func (t *TwilioAdapter) NormalizeReceipts(raw []byte, contentType string) []entities.DeliveryReceipt {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil
	}

	sid := values.Get("MessageSid")
	if sid == "" {
		return nil
	}

	r := entities.DeliveryReceipt{
		ProviderMessageID: sid,
		Timestamp:         time.Now(),
		ErrorCode:         values.Get("ErrorCode"),
		ErrorMessage:      values.Get("ErrorMessage"),
	}
	switch values.Get("MessageStatus") {
	case "sent", "queued", "accepted":
		r.Status = entities.StatusSent
	case "delivered":
		r.Status = entities.StatusDelivered
	case "read":
		r.Status = entities.StatusRead
	case "failed", "undelivered":
		r.Status = entities.StatusFailed
	default:
		return nil
	}
	return []entities.DeliveryReceipt{r}
}

// Send posts to the Messages endpoint.
func (t *TwilioAdapter) Send(ctx context.Context, recipient, body string, kind entities.MessageKind, opts interfaces.SendOptions) (string, error) {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("Body", body)
	if t.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", t.cfg.MessagingServiceSID)
	} else {
		form.Set("From", t.cfg.FromNumber)
	}
	if kind == entities.KindMedia && opts.MediaRef != "" {
		form.Set("MediaUrl", opts.MediaRef)
	}
	return t.post(ctx, "sms.send", form)
}

// SendTemplate: plain SMS has no template registry.
func (t *TwilioAdapter) SendTemplate(ctx context.Context, recipient, name, lang string, args []string) (string, error) {
	return "", entities.NewError(entities.ErrKindUnsupported, "sms.send_template", "sms channel does not support templates", nil)
}

// SendMedia sends an MMS with a media URL.
func (t *TwilioAdapter) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("Body", caption)
	form.Set("MediaUrl", mediaRef)
	if t.cfg.MessagingServiceSID != "" {
		form.Set("MessagingServiceSid", t.cfg.MessagingServiceSID)
	} else {
		form.Set("From", t.cfg.FromNumber)
	}
	return t.post(ctx, "sms.send_media", form)
}

// SendButtons: SMS is plain text; degrade to a numbered list so guests can
// still answer.
func (t *TwilioAdapter) SendButtons(ctx context.Context, recipient, body string, buttons []interfaces.Button) (string, error) {
	var sb strings.Builder
	sb.WriteString(body)
	for i, b := range buttons {
		sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, b.Title))
	}
	return t.Send(ctx, recipient, sb.String(), entities.KindText, interfaces.SendOptions{})
}

// MarkRead: not a thing for SMS.
func (t *TwilioAdapter) MarkRead(ctx context.Context, providerMessageID string) error {
	return entities.NewError(entities.ErrKindUnsupported, "sms.mark_read", "sms channel does not support read receipts", nil)
}

type twilioResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"` // error message on non-2xx
	Code    int    `json:"code"`
}

func (t *TwilioAdapter) post(ctx context.Context, op string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL(), t.cfg.AccountSID)

	ctx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", entities.NewError(entities.ErrKindProvider, op, "build request", err)
	}
	// SetBasicAuth produces the base64(accountSid:authToken) header.
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", entities.NewError(entities.ErrKindTimeout, op, "provider call timed out", err)
		}
		return "", entities.NewError(entities.ErrKindProvider, op, "provider call failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed twilioResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Message != "" {
			msg = parsed.Message
		}
		ge := entities.NewError(entities.ErrKindProvider, op, msg, nil)
		ge.Permanent = permanentStatus(resp.StatusCode)
		return "", ge
	}
	return parsed.Sid, nil
}
