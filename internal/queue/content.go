package queue

import (
	"context"
	"fmt"

	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
)

// content is what every channel sends for one entry. Media URLs are already
// resolved to something the providers can fetch.
type content struct {
	Caption  string
	Images   []string
	Video    string
	Template *models.TemplateMessage
}

func (c *content) empty() bool {
	return c.Caption == "" && len(c.Images) == 0 && c.Video == "" && c.Template == nil
}

func (j *Queue) resolveContent(ctx context.Context, entry *models.MarketingQueueEntry) (*content, error) {
	payload, err := models.ParsePayload(entry.Type, entry.Payload)
	if err != nil {
		return nil, apperrors.NewValidation("payload", err.Error())
	}

	m := payload.Media()
	images := m.Images
	video := m.VideoURL
	if m.MediaURL != "" {
		if j.media.Kind(m.MediaURL) == service.MediaKindVideo {
			if video == "" {
				video = m.MediaURL
			}
		} else if len(images) == 0 {
			images = []string{m.MediaURL}
		}
	}

	caption := m.Caption
	if su, ok := payload.(*models.StockUpdatePayload); ok && su.ProductID != "" {
		product, err := j.products.GetByID(ctx, entry.StoreID, string(su.ProductID))
		if err != nil {
			return nil, apperrors.NewPersistence("get product", err)
		}
		if product == nil {
			return nil, apperrors.NewValidation("productId", fmt.Sprintf("product %s not found", su.ProductID))
		}
		if caption == "" {
			caption = "New stock: " + product.Name
		}
		if len(images) == 0 {
			images = product.ImageURLs
		}
	}
	if caption == "" {
		caption = m.Title
	}

	c := &content{Caption: caption, Template: m.Template}
	for _, ref := range images {
		u, err := j.media.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		if u != "" {
			c.Images = append(c.Images, u)
		}
	}
	if video != "" {
		if c.Video, err = j.media.Resolve(ctx, video); err != nil {
			return nil, err
		}
	}
	return c, nil
}
