package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
	"golang.org/x/oauth2"
)

// WhatsAppService sends single messages through the WhatsApp Cloud API. Each
// method returns the provider message id. Nothing is retried here.
type WhatsAppService interface {
	SendText(ctx context.Context, storeID, phone, body string) (string, error)
	SendImage(ctx context.Context, storeID, phone, mediaURL, caption string) (string, error)
	SendVideo(ctx context.Context, storeID, phone, mediaURL, caption string) (string, error)
	SendTemplate(ctx context.Context, storeID, phone, name, languageCode string, params []string) (string, error)
}

type whatsAppService struct {
	cfg        config.Config
	tokens     TokenService
	httpClient *http.Client
}

func NewWhatsAppService(cfg config.Config, tokens TokenService, httpClient *http.Client) WhatsAppService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &whatsAppService{cfg: cfg, tokens: tokens, httpClient: httpClient}
}

// NormalizePhoneNumber strips everything but digits and prefixes countryCode
// onto bare 10-digit national numbers.
func NormalizePhoneNumber(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 && countryCode != "" {
		return countryCode + digits
	}
	return digits
}

func (s *whatsAppService) SendText(ctx context.Context, storeID, phone, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", apperrors.NewValidation("body", "message body is empty")
	}
	return s.send(ctx, storeID, "send_text", &transfer.WhatsAppMessage{
		To:   phone,
		Type: "text",
		Text: &transfer.WhatsAppText{PreviewURL: true, Body: body},
	})
}

func (s *whatsAppService) SendImage(ctx context.Context, storeID, phone, mediaURL, caption string) (string, error) {
	return s.send(ctx, storeID, "send_image", &transfer.WhatsAppMessage{
		To:    phone,
		Type:  "image",
		Image: &transfer.WhatsAppMedia{Link: mediaURL, Caption: caption},
	})
}

func (s *whatsAppService) SendVideo(ctx context.Context, storeID, phone, mediaURL, caption string) (string, error) {
	return s.send(ctx, storeID, "send_video", &transfer.WhatsAppMessage{
		To:    phone,
		Type:  "video",
		Video: &transfer.WhatsAppMedia{Link: mediaURL, Caption: caption},
	})
}

func (s *whatsAppService) SendTemplate(ctx context.Context, storeID, phone, name, languageCode string, params []string) (string, error) {
	if languageCode == "" {
		languageCode = "en_US"
	}
	tmpl := &transfer.WhatsAppTemplate{
		Name:     name,
		Language: transfer.WhatsAppTemplateLanguage{Code: languageCode},
	}
	if len(params) > 0 {
		body := transfer.WhatsAppTemplateComponent{Type: "body"}
		for _, p := range params {
			body.Parameters = append(body.Parameters, transfer.WhatsAppTemplateParameter{Type: "text", Text: p})
		}
		tmpl.Components = []transfer.WhatsAppTemplateComponent{body}
	}
	return s.send(ctx, storeID, "send_template", &transfer.WhatsAppMessage{
		To:       phone,
		Type:     "template",
		Template: tmpl,
	})
}

func (s *whatsAppService) send(ctx context.Context, storeID, op string, msg *transfer.WhatsAppMessage) (string, error) {
	to := NormalizePhoneNumber(msg.To, s.cfg.WhatsApp.DefaultCountryCode)
	if to == "" {
		return "", apperrors.NewValidation("phone", fmt.Sprintf("%q has no digits", msg.To))
	}
	msg.To = to
	msg.MessagingProduct = "whatsapp"
	msg.RecipientType = "individual"

	phoneNumberID, err := s.tokens.AccountID(ctx, storeID, models.PlatformWhatsApp)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ChannelCallTimeout)
	defer cancel()

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, s.httpClient),
		s.tokens.TokenSource(ctx, storeID, models.PlatformWhatsApp),
	)
	endpoint := graphEndpoint(s.cfg.Graph.BaseURL, s.cfg.Graph.Version, phoneNumberID, "messages")

	status, raw, err := doJSON(ctx, client, http.MethodPost, endpoint, msg)
	if err != nil {
		return "", transportError(models.PlatformWhatsApp, op, to, err)
	}
	if status != http.StatusOK {
		return "", &apperrors.ChannelSendError{
			Channel:    models.PlatformWhatsApp,
			Op:         op,
			Recipient:  to,
			StatusCode: status,
			Body:       string(raw),
		}
	}

	var resp transfer.WhatsAppSendResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		if err == nil {
			err = errors.New("response carried no message id")
		}
		return "", &apperrors.ChannelSendError{
			Channel:    models.PlatformWhatsApp,
			Op:         op,
			Recipient:  to,
			StatusCode: status,
			Body:       string(raw),
			Err:        err,
		}
	}
	return resp.Messages[0].ID, nil
}
