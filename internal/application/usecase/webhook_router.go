package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
	"github.com/ngoclaw/ngoclaw/wabridge/pkg/safego"
)

// EventDecoder classifies a raw webhook body. Implementations never fail;
// unusable payloads come back as ignored events.
type EventDecoder interface {
	Decode(raw []byte) *entity.InboundEvent
}

// WebhookRouter is the entry point for gateway webhooks.
type WebhookRouter struct {
	instances repository.InstanceRepository
	decoder   EventDecoder
	ingest    *IngestMessageUseCase
	events    *MessageEventsUseCase
	observer  service.PipelineObserver
	logger    *zap.Logger
}

// NewWebhookRouter 创建 webhook 路由
func NewWebhookRouter(
	instances repository.InstanceRepository,
	decoder EventDecoder,
	ingest *IngestMessageUseCase,
	events *MessageEventsUseCase,
	observer service.PipelineObserver,
	logger *zap.Logger,
) *WebhookRouter {
	if observer == nil {
		observer = service.NoOpObserver{}
	}
	return &WebhookRouter{
		instances: instances,
		decoder:   decoder,
		ingest:    ingest,
		events:    events,
		observer:  observer,
		logger:    logger.With(zap.String("component", "webhook-router")),
	}
}

// Handle routes one webhook delivery for instanceID. Only an unknown
// instance, a non-gateway instance or a storage failure is returned as an
// error; everything the payload itself gets wrong is logged and acknowledged.
func (r *WebhookRouter) Handle(ctx context.Context, instanceID uint, raw []byte) error {
	instance, err := r.instances.FindByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if !instance.UsesGateway() {
		return domainErrors.NewUnsupportedTransportError(instance.Transport)
	}
	// 网关放弃等待后仍要落库, 转码有自己的超时
	ctx = context.WithoutCancel(ctx)
	r.observer.WebhookReceived()

	var evt *entity.InboundEvent
	if err := safego.Call(r.logger, "webhook-decode", func() error {
		evt = r.decoder.Decode(raw)
		return nil
	}); err != nil || evt == nil {
		r.observer.AdaptationSkipped()
		return nil
	}

	switch evt.Kind {
	case entity.InboundMessage:
		return safego.Call(r.logger, "ingest", func() error {
			return r.ingest.Execute(ctx, instance, evt.Message)
		})
	case entity.InboundRevocation:
		return r.events.ApplyRevocation(ctx, evt.Revocation)
	case entity.InboundReceipt:
		return r.events.ApplyReceipt(ctx, evt.Receipt)
	}

	r.logger.Debug("Webhook ignored",
		zap.Uint("instance_id", instanceID),
		zap.String("trace_id", service.TraceIDFromContext(ctx)),
		zap.String("reason", evt.Reason),
	)
	r.observer.AdaptationSkipped()
	return nil
}
