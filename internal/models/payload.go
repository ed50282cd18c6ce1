package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	EntryTypeStockUpdate     = "stock_update"
	EntryTypePromotionalPost = "promotional_post"
)

// EntryPayload is the typed view of MarketingQueueEntry.Payload.
// Known entry types decode into their own variant, anything else into GenericPayload.
type EntryPayload interface {
	Kind() string
	Media() MediaPayload
	Validate() error
}

type MediaPayload struct {
	Caption  string           `json:"caption,omitempty"`
	Title    string           `json:"title,omitempty"`
	Images   []string         `json:"images,omitempty"`
	VideoURL string           `json:"video_url,omitempty"`
	MediaURL string           `json:"media_url,omitempty"`
	Template *TemplateMessage `json:"template,omitempty"`
}

// TemplateMessage selects a pre-approved WhatsApp template. WhatsApp recipients
// get the template instead of the caption and media. A "{{name}}" param is
// replaced with the recipient's name.
type TemplateMessage struct {
	Name     string   `json:"name"`
	Language string   `json:"language,omitempty"`
	Params   []string `json:"params,omitempty"`
}

func (m MediaPayload) empty() bool {
	return m.Caption == "" && m.Title == "" && len(m.Images) == 0 && m.VideoURL == "" && m.MediaURL == "" && m.Template == nil
}

func (m MediaPayload) validateTemplate() error {
	if m.Template != nil && strings.TrimSpace(m.Template.Name) == "" {
		return errors.New("template needs a name")
	}
	return nil
}

type StockUpdatePayload struct {
	ProductID FlexibleID `json:"productId,omitempty"`
	MediaPayload
}

func (p *StockUpdatePayload) Kind() string        { return EntryTypeStockUpdate }
func (p *StockUpdatePayload) Media() MediaPayload { return p.MediaPayload }

func (p *StockUpdatePayload) Validate() error {
	if p.ProductID == "" && p.MediaPayload.empty() {
		return errors.New("stock_update needs productId or caption/media")
	}
	return p.validateTemplate()
}

type PromotionalPayload struct {
	MediaPayload
}

func (p *PromotionalPayload) Kind() string        { return EntryTypePromotionalPost }
func (p *PromotionalPayload) Media() MediaPayload { return p.MediaPayload }

func (p *PromotionalPayload) Validate() error {
	if p.MediaPayload.empty() {
		return errors.New("promotional_post needs a caption, title or media")
	}
	return p.validateTemplate()
}

// GenericPayload keeps unknown entry types dispatchable when they carry the common media fields.
type GenericPayload struct {
	Type string
	MediaPayload
	Raw json.RawMessage
}

func (p *GenericPayload) Kind() string        { return p.Type }
func (p *GenericPayload) Media() MediaPayload { return p.MediaPayload }
func (p *GenericPayload) Validate() error     { return p.validateTemplate() }

func ParsePayload(entryType string, raw json.RawMessage) (EntryPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("payload is empty")
	}
	if trimmed[0] != '{' {
		return nil, errors.New("payload must be a JSON object")
	}

	var p EntryPayload
	switch entryType {
	case EntryTypeStockUpdate:
		p = &StockUpdatePayload{}
	case EntryTypePromotionalPost:
		p = &PromotionalPayload{}
	default:
		g := &GenericPayload{Type: entryType, Raw: append(json.RawMessage(nil), trimmed...)}
		if err := json.Unmarshal(trimmed, &g.MediaPayload); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		return g, nil
	}

	if err := json.Unmarshal(trimmed, p); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", entryType, err)
	}
	return p, nil
}

// FlexibleID accepts both JSON strings and numbers.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = FlexibleID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}
