package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
	"github.com/maheshrc27/marketing-dispatch/internal/metrics"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
)

const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeReleased = "released"
	OutcomeSkipped  = "skipped"
)

type RecipientResult struct {
	Recipient  string
	ProviderID string
	Err        error
}

// ChannelResult is one channel's share of an entry run. Err is the
// channel-level failure; per-recipient failures live in Recipients.
type ChannelResult struct {
	Recipients []RecipientResult
	Sent       int
	Failed     int
	ProviderID string
	Err        error
}

type Report struct {
	EntryID   string
	Outcome   string
	WhatsApp  *ChannelResult
	Instagram *ChannelResult
}

func (j *Queue) HandleDispatchEntryTask(ctx context.Context, task *asynq.Task) error {
	var payload DispatchEntryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.EntryID == "" {
		return fmt.Errorf("task without entry id: %w", asynq.SkipRetry)
	}

	_, err := j.ProcessEntry(ctx, payload.EntryID)
	return err
}

// ProcessEntry runs one claimed entry to a terminal status. Channel failures
// end up on the entry; only persistence failures are returned, after the
// entry has been handed back to pending.
func (j *Queue) ProcessEntry(ctx context.Context, entryID string) (*Report, error) {
	report := &Report{EntryID: entryID}

	claimed, err := j.entries.Claim(ctx, entryID, j.now())
	if err != nil {
		return nil, apperrors.NewPersistence("claim entry", err)
	}
	if !claimed {
		slog.Info("entry not claimable, skipping", slog.String("entry_id", entryID))
		report.Outcome = OutcomeSkipped
		return report, nil
	}

	entry, err := j.entries.GetByID(ctx, entryID)
	if err != nil {
		j.release(ctx, entryID, models.EntryStatusPending)
		return nil, apperrors.NewPersistence("get entry", err)
	}
	if entry == nil {
		report.Outcome = OutcomeSkipped
		return report, nil
	}

	log := slog.With(slog.String("entry_id", entry.ID), slog.String("store_id", entry.StoreID))

	if entry.SendInstagram && !entry.InstagramAllowed() {
		log.Info("instagram needs approval, returning entry to the approval queue")
		j.release(ctx, entryID, models.EntryStatusPendingApproval)
		report.Outcome = OutcomeReleased
		metrics.EntryOutcome.WithLabelValues(report.Outcome).Inc()
		return report, nil
	}

	if !entry.SendWhatsApp && !entry.SendInstagram {
		log.Info("entry targets no channel")
		return j.finish(ctx, report, "")
	}

	c, err := j.resolveContent(ctx, entry)
	if err == nil && c.empty() {
		err = apperrors.NewValidation("payload", "nothing to send")
	}
	if err != nil {
		var persist *apperrors.PersistenceError
		if errors.As(err, &persist) {
			j.release(ctx, entryID, models.EntryStatusPending)
			return nil, err
		}
		log.Warn("entry content unusable", slog.Any("error", err))
		return j.finish(ctx, report, err.Error())
	}

	var customers []*models.Customer
	if entry.SendWhatsApp {
		customers, err = j.customers.ListOptedIn(ctx, entry.StoreID)
		if err != nil {
			j.release(ctx, entryID, models.EntryStatusPending)
			return nil, apperrors.NewPersistence("list customers", err)
		}
	}

	var g errgroup.Group
	if entry.SendWhatsApp {
		g.Go(func() error {
			report.WhatsApp = j.fanOutWhatsApp(ctx, entry, c, customers)
			return nil
		})
	}
	if entry.SendInstagram {
		g.Go(func() error {
			report.Instagram = j.publishInstagram(ctx, entry, c)
			return nil
		})
	}
	g.Wait()

	j.writeDeliveryLogs(ctx, entry, report)

	if perr := persistenceFailure(report); perr != nil {
		log.Warn("store unavailable during dispatch, returning entry to pending", slog.Any("error", perr))
		j.release(ctx, entryID, models.EntryStatusPending)
		return nil, perr
	}

	var failures []string
	if report.WhatsApp != nil && report.WhatsApp.Err != nil {
		failures = append(failures, "whatsapp: "+report.WhatsApp.Err.Error())
	}
	if report.Instagram != nil && report.Instagram.Err != nil {
		failures = append(failures, "instagram: "+report.Instagram.Err.Error())
	}
	if len(failures) > 0 {
		log.Warn("entry dispatch failed", slog.String("error", strings.Join(failures, "; ")))
	}
	return j.finish(ctx, report, strings.Join(failures, "; "))
}

// finish writes the terminal status. An empty errMsg means sent.
func (j *Queue) finish(ctx context.Context, report *Report, errMsg string) (*Report, error) {
	var err error
	if errMsg == "" {
		report.Outcome = OutcomeSent
		err = j.entries.MarkSent(ctx, report.EntryID, j.now())
	} else {
		report.Outcome = OutcomeFailed
		err = j.entries.MarkFailed(ctx, report.EntryID, errMsg, j.now())
	}

	if errors.Is(err, repository.ErrNotProcessing) {
		slog.Warn("entry was reclaimed before it finished",
			slog.String("entry_id", report.EntryID),
			slog.String("outcome", report.Outcome))
		report.Outcome = OutcomeSkipped
		return report, nil
	}
	if err != nil {
		return report, apperrors.NewPersistence("finish entry", err)
	}

	metrics.EntryOutcome.WithLabelValues(report.Outcome).Inc()
	slog.Info("entry processed",
		slog.String("entry_id", report.EntryID),
		slog.String("outcome", report.Outcome))
	return report, nil
}

func (j *Queue) release(ctx context.Context, entryID, status string) {
	if err := j.entries.Release(ctx, entryID, status, j.now()); err != nil {
		slog.Error("failed to release entry",
			slog.String("entry_id", entryID),
			slog.String("status", status),
			slog.Any("error", err))
	}
}

func (j *Queue) fanOutWhatsApp(ctx context.Context, entry *models.MarketingQueueEntry, c *content, customers []*models.Customer) *ChannelResult {
	result := &ChannelResult{Recipients: make([]RecipientResult, len(customers))}
	if len(customers) == 0 {
		slog.Info("no opted-in customers", slog.String("entry_id", entry.ID))
		return result
	}

	limit := j.cfg.WhatsApp.Concurrency
	if limit <= 0 {
		limit = 1
	}

	// Only credential failures abort the fan-out; everything else is per recipient.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, customer := range customers {
		g.Go(func() error {
			id, err := j.sendWhatsApp(gctx, entry.StoreID, customer, c)
			result.Recipients[i] = RecipientResult{Recipient: customer.MobileNumber, ProviderID: id, Err: err}
			if err != nil {
				metrics.RecipientSends.WithLabelValues("failure").Inc()
				if systemicSendError(err) {
					return err
				}
				return nil
			}
			metrics.RecipientSends.WithLabelValues("success").Inc()
			return nil
		})
	}
	systemic := g.Wait()

	var firstErr error
	for _, r := range result.Recipients {
		if r.Err != nil {
			result.Failed++
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		result.Sent++
	}

	switch {
	case systemic != nil:
		result.Err = systemic
	case result.Failed == len(customers):
		result.Err = fmt.Errorf("all %d recipients failed: %w", result.Failed, firstErr)
	case result.Failed > 0 && j.cfg.WhatsApp.FailurePolicy == WhatsAppPolicyStrict:
		result.Err = fmt.Errorf("%d of %d recipients failed: %w", result.Failed, len(customers), firstErr)
	}

	slog.Info("whatsapp fan-out done",
		slog.String("entry_id", entry.ID),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed))
	return result
}

// systemicSendError reports errors that would hit every recipient alike.
func systemicSendError(err error) bool {
	var auth *apperrors.ChannelAuthError
	var persist *apperrors.PersistenceError
	return errors.As(err, &auth) || errors.As(err, &persist)
}

// persistenceFailure returns the first channel error caused by the store
// rather than the provider.
func persistenceFailure(report *Report) error {
	for _, res := range []*ChannelResult{report.WhatsApp, report.Instagram} {
		if res == nil || res.Err == nil {
			continue
		}
		var persist *apperrors.PersistenceError
		if errors.As(res.Err, &persist) {
			return persist
		}
	}
	return nil
}

func (j *Queue) sendWhatsApp(ctx context.Context, storeID string, customer *models.Customer, c *content) (string, error) {
	phone := customer.MobileNumber
	switch {
	case c.Template != nil:
		return j.wa.SendTemplate(ctx, storeID, phone, c.Template.Name, c.Template.Language, templateParams(c.Template.Params, customer))
	case len(c.Images) > 0:
		return j.wa.SendImage(ctx, storeID, phone, c.Images[0], c.Caption)
	case c.Video != "":
		return j.wa.SendVideo(ctx, storeID, phone, c.Video, c.Caption)
	}
	return j.wa.SendText(ctx, storeID, phone, c.Caption)
}

func (j *Queue) publishInstagram(ctx context.Context, entry *models.MarketingQueueEntry, c *content) *ChannelResult {
	result := &ChannelResult{}

	mediaURL, kind := "", service.MediaKindImage
	switch {
	case len(c.Images) > 0:
		mediaURL = c.Images[0]
	case c.Video != "":
		mediaURL, kind = c.Video, service.MediaKindVideo
	}

	id, err := j.ig.Publish(ctx, entry.StoreID, c.Caption, mediaURL, kind)
	result.Recipients = []RecipientResult{{Recipient: models.PlatformInstagram, ProviderID: id, Err: err}}
	if err != nil {
		result.Failed = 1
		result.Err = err
		slog.Warn("instagram publish failed",
			slog.String("entry_id", entry.ID),
			slog.Bool("retryable", apperrors.IsRetryable(err)),
			slog.Any("error", err))
		return result
	}
	result.Sent = 1
	result.ProviderID = id
	return result
}

func (j *Queue) writeDeliveryLogs(ctx context.Context, entry *models.MarketingQueueEntry, report *Report) {
	var logs []*models.DeliveryLog
	add := func(channel string, res *ChannelResult) {
		if res == nil {
			return
		}
		for _, r := range res.Recipients {
			id, err := gonanoid.New()
			if err != nil {
				continue
			}
			l := &models.DeliveryLog{
				ID:         id,
				EntryID:    entry.ID,
				StoreID:    entry.StoreID,
				Channel:    channel,
				Recipient:  r.Recipient,
				ProviderID: r.ProviderID,
			}
			if r.Err != nil {
				l.ErrorMessage = r.Err.Error()
			}
			logs = append(logs, l)
		}
	}
	add(models.PlatformWhatsApp, report.WhatsApp)
	add(models.PlatformInstagram, report.Instagram)

	if len(logs) == 0 {
		return
	}
	if err := j.logs.CreateBatch(ctx, logs); err != nil {
		slog.Error("failed to write delivery logs",
			slog.String("entry_id", entry.ID),
			slog.Any("error", err))
	}
}

func templateParams(params []string, customer *models.Customer) []string {
	if len(params) == 0 {
		return nil
	}
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = strings.ReplaceAll(p, "{{name}}", customer.Name)
	}
	return out
}
