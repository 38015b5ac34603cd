package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jozer-rami/resonancial-api/internal/db"
)

// WhatsAppSender delivers discount codes through the WhatsApp Business
// Cloud API (Graph-style messages endpoint).
type WhatsAppSender struct {
	client *http.Client
	apiURL string
	token  string
	logger *zap.Logger
}

type WhatsAppConfig struct {
	// APIURL is the provider messages endpoint, e.g.
	// https://graph.facebook.com/v19.0/<phone-number-id>/messages
	APIURL  string
	Token   string
	Timeout time.Duration
}

// NewWhatsAppSender creates a WhatsApp sender
func NewWhatsAppSender(logger *zap.Logger, cfg WhatsAppConfig) *WhatsAppSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WhatsAppSender{
		client: &http.Client{Timeout: timeout},
		apiURL: cfg.APIURL,
		token:  cfg.Token,
		logger: logger,
	}
}

type whatsappRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsappText `json:"text"`
}

type whatsappText struct {
	Body string `json:"body"`
}

type whatsappResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send delivers the discount code as a WhatsApp text message
func (s *WhatsAppSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelWhatsapp {
		return fmt.Errorf("whatsapp sender only supports whatsapp, got: %s", d.Channel)
	}

	if d.To == "" {
		return fmt.Errorf("delivery missing destination phone number")
	}

	reqBody, err := json.Marshal(whatsappRequest{
		MessagingProduct: "whatsapp",
		To:               d.To,
		Type:             "text",
		Text:             whatsappText{Body: whatsappMessage(d)},
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp returned non-2xx status: %d, body: %s", resp.StatusCode, string(body))
	}

	var wr whatsappResponse
	messageID := ""
	if err := json.Unmarshal(body, &wr); err == nil && len(wr.Messages) > 0 {
		messageID = wr.Messages[0].ID
	}

	s.logger.Info("discount code sent via whatsapp",
		zap.String("code_id", d.CodeID.String()),
		zap.String("to", d.To),
		zap.String("message_id", messageID),
	)

	return nil
}

// SupportsChannel checks if this sender supports the whatsapp channel
func (s *WhatsAppSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelWhatsapp
}
