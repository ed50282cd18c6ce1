package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	t.Run("stock update with numeric product id", func(t *testing.T) {
		p, err := ParsePayload(EntryTypeStockUpdate, json.RawMessage(`{"productId": 42, "caption": "Fresh in"}`))
		require.NoError(t, err)
		stock, ok := p.(*StockUpdatePayload)
		require.True(t, ok)
		assert.Equal(t, FlexibleID("42"), stock.ProductID)
		assert.Equal(t, "Fresh in", stock.Media().Caption)
		assert.NoError(t, p.Validate())
	})

	t.Run("stock update without product or media is invalid", func(t *testing.T) {
		p, err := ParsePayload(EntryTypeStockUpdate, json.RawMessage(`{"foo": "bar"}`))
		require.NoError(t, err)
		assert.Error(t, p.Validate())
	})

	t.Run("promotional post", func(t *testing.T) {
		p, err := ParsePayload(EntryTypePromotionalPost, json.RawMessage(`{"title": "Diwali sale", "images": ["https://cdn/x.jpg"]}`))
		require.NoError(t, err)
		assert.Equal(t, EntryTypePromotionalPost, p.Kind())
		assert.Equal(t, []string{"https://cdn/x.jpg"}, p.Media().Images)
	})

	t.Run("unknown type falls back to generic", func(t *testing.T) {
		p, err := ParsePayload("birthday", json.RawMessage(`{"customer": "c1", "caption": "hi"}`))
		require.NoError(t, err)
		g, ok := p.(*GenericPayload)
		require.True(t, ok)
		assert.Equal(t, "birthday", g.Kind())
		assert.Equal(t, "hi", g.Caption)
		assert.JSONEq(t, `{"customer": "c1", "caption": "hi"}`, string(g.Raw))
	})

	t.Run("template only promotional post", func(t *testing.T) {
		p, err := ParsePayload(EntryTypePromotionalPost, json.RawMessage(`{"template": {"name": "festive_offer", "language": "en", "params": ["{{name}}", "20%"]}}`))
		require.NoError(t, err)
		require.NoError(t, p.Validate())
		tmpl := p.Media().Template
		require.NotNil(t, tmpl)
		assert.Equal(t, "festive_offer", tmpl.Name)
		assert.Equal(t, []string{"{{name}}", "20%"}, tmpl.Params)
	})

	t.Run("template without a name is invalid", func(t *testing.T) {
		for _, typ := range []string{EntryTypePromotionalPost, EntryTypeStockUpdate, "birthday"} {
			p, err := ParsePayload(typ, json.RawMessage(`{"caption": "hi", "template": {"params": ["x"]}}`))
			require.NoError(t, err)
			assert.Error(t, p.Validate(), typ)
		}
	})

	t.Run("empty and non-object payloads", func(t *testing.T) {
		for _, raw := range []string{``, `null`, `[1,2]`, `"text"`} {
			_, err := ParsePayload(EntryTypeStockUpdate, json.RawMessage(raw))
			assert.Error(t, err, raw)
		}
	})
}

func TestEntryGates(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)

	e := &MarketingQueueEntry{RequiresApproval: true}
	assert.False(t, e.InstagramAllowed())
	e.ApprovedAt = &now
	assert.True(t, e.InstagramAllowed())

	assert.True(t, e.DueAt(now))
	e.ScheduledAt = &later
	assert.False(t, e.DueAt(now))
	assert.True(t, e.DueAt(later))
}

func TestChannelTokenExpiry(t *testing.T) {
	now := time.Now()
	in3Days := now.Add(72 * time.Hour)
	tok := &ChannelToken{TokenExpiry: &in3Days}

	assert.True(t, tok.ExpiresWithin(now, 5*24*time.Hour))
	assert.False(t, tok.ExpiresWithin(now, 24*time.Hour))
	assert.False(t, tok.ExpiredAt(now))
	assert.True(t, tok.ExpiredAt(in3Days))

	assert.False(t, (&ChannelToken{}).ExpiresWithin(now, time.Hour))
}
