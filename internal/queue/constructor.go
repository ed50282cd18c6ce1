package queue

import (
	"time"

	config "github.com/maheshrc27/marketing-dispatch/configs"
	"github.com/maheshrc27/marketing-dispatch/internal/repository"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
)

// Queue is the dispatch worker. One asynq task carries one queue entry id.
type Queue struct {
	cfg       config.Config
	entries   repository.MarketingQueueRepository
	customers repository.CustomerRepository
	products  repository.ProductRepository
	logs      repository.DeliveryLogRepository
	wa        service.WhatsAppService
	ig        service.InstagramService
	media     service.MediaService
	now       func() time.Time
}

func NewQueue(
	cfg config.Config,
	entries repository.MarketingQueueRepository,
	customers repository.CustomerRepository,
	products repository.ProductRepository,
	logs repository.DeliveryLogRepository,
	wa service.WhatsAppService,
	ig service.InstagramService,
	media service.MediaService) *Queue {
	return &Queue{
		cfg:       cfg,
		entries:   entries,
		customers: customers,
		products:  products,
		logs:      logs,
		wa:        wa,
		ig:        ig,
		media:     media,
		now:       time.Now,
	}
}

const (
	TaskTypeDispatchEntry = "marketing:dispatch"
	QueueName             = "marketing"
)

type DispatchEntryPayload struct {
	EntryID string `json:"entry_id"`
}

const (
	WhatsAppPolicyTolerate = "tolerate"
	WhatsAppPolicyStrict   = "strict"
)
