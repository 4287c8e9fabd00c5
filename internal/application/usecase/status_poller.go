package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/pkg/safego"
)

// StatusPoller periodically refreshes the session status of every gateway
// instance, so a phone that logged out between webhooks still shows up as
// disconnected.
type StatusPoller struct {
	instances repository.InstanceRepository
	sessions  *SessionUseCase
	interval  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewStatusPoller 创建状态轮询器, interval <= 0 表示禁用
func NewStatusPoller(
	instances repository.InstanceRepository,
	sessions *SessionUseCase,
	interval time.Duration,
	logger *zap.Logger,
) *StatusPoller {
	return &StatusPoller{
		instances: instances,
		sessions:  sessions,
		interval:  interval,
		logger:    logger.With(zap.String("component", "status-poller")),
	}
}

// Start schedules PollOnce every interval.
func (p *StatusPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interval <= 0 {
		p.logger.Info("Status polling disabled")
		return nil
	}
	if p.running {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron = cron.New()
	if _, err := p.cron.AddFunc("@every "+p.interval.String(), p.tick); err != nil {
		p.cancel()
		return err
	}
	p.cron.Start()
	p.running = true

	p.logger.Info("Starting status poller", zap.Duration("interval", p.interval))
	return nil
}

// Stop halts polling and waits for a running poll to return.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.cancel()
	<-p.cron.Stop().Done()
	p.running = false
	p.logger.Info("Status poller stopped")
}

func (p *StatusPoller) tick() {
	defer safego.Recover(p.logger, "status-poller")
	p.PollOnce(p.ctx)
}

// PollOnce refreshes every gateway instance and returns how many refreshed
// without error. Individual failures are logged and skipped.
func (p *StatusPoller) PollOnce(ctx context.Context) int {
	instances, err := p.instances.List(ctx)
	if err != nil {
		p.logger.Warn("Failed to list instances", zap.Error(err))
		return 0
	}

	refreshed := 0
	for _, instance := range instances {
		if ctx.Err() != nil {
			break
		}
		if !instance.UsesGateway() || instance.Token == "" {
			continue
		}
		if _, err := p.sessions.Status(ctx, instance.ID); err != nil {
			p.logger.Warn("Status poll failed",
				zap.Uint("instance_id", instance.ID),
				zap.Error(err),
			)
			continue
		}
		refreshed++
	}
	return refreshed
}
