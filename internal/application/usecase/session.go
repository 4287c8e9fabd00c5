package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// SessionUseCase drives the gateway session of an instance and mirrors its
// state onto the stored instance.
type SessionUseCase struct {
	instances repository.InstanceRepository
	gateway   service.SessionGateway
	notifier  service.Notifier
	logger    *zap.Logger
}

// NewSessionUseCase 创建会话用例
func NewSessionUseCase(
	instances repository.InstanceRepository,
	gateway service.SessionGateway,
	notifier service.Notifier,
	logger *zap.Logger,
) *SessionUseCase {
	return &SessionUseCase{
		instances: instances,
		gateway:   gateway,
		notifier:  notifier,
		logger:    logger.With(zap.String("component", "session")),
	}
}

func (uc *SessionUseCase) load(ctx context.Context, id uint) (*entity.Instance, error) {
	instance, err := uc.instances.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !instance.UsesGateway() {
		return nil, domainErrors.NewUnsupportedTransportError(instance.Transport)
	}
	return instance, nil
}

// Connect opens the session and stores the login QR code. An account that is
// already logged in has no QR code; its status is refreshed instead.
func (uc *SessionUseCase) Connect(ctx context.Context, id uint) (*entity.Instance, error) {
	instance, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ep := service.EndpointFor(instance)
	if err := uc.gateway.Connect(ctx, ep); err != nil {
		return nil, err
	}

	qr, err := uc.gateway.QRCode(ctx, ep)
	if err != nil {
		uc.logger.Info("No QR code after connect, refreshing status",
			zap.Uint("instance_id", id),
			zap.Error(err),
		)
		return uc.refresh(ctx, instance)
	}

	instance.Status = entity.InstanceQRCode
	instance.QRCode = qr
	instance.Retries = 0
	if err := uc.save(ctx, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// Status polls the gateway and persists the mapped status when it changed.
func (uc *SessionUseCase) Status(ctx context.Context, id uint) (*entity.Instance, error) {
	instance, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.refresh(ctx, instance)
}

// Disconnect closes the session and refreshes the status.
func (uc *SessionUseCase) Disconnect(ctx context.Context, id uint) (*entity.Instance, error) {
	instance, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := uc.gateway.Disconnect(ctx, service.EndpointFor(instance)); err != nil {
		return nil, err
	}
	return uc.refresh(ctx, instance)
}

// QRCode returns a fresh login QR code.
func (uc *SessionUseCase) QRCode(ctx context.Context, id uint) (string, error) {
	instance, err := uc.load(ctx, id)
	if err != nil {
		return "", err
	}
	qr, err := uc.gateway.QRCode(ctx, service.EndpointFor(instance))
	if err != nil {
		return "", err
	}
	if qr != instance.QRCode {
		instance.QRCode = qr
		instance.Status = entity.InstanceQRCode
		if err := uc.save(ctx, instance); err != nil {
			return "", err
		}
	}
	return qr, nil
}

func (uc *SessionUseCase) refresh(ctx context.Context, instance *entity.Instance) (*entity.Instance, error) {
	state, err := uc.gateway.Status(ctx, service.EndpointFor(instance))
	if err != nil {
		return nil, err
	}
	status := entity.SessionStatus(state.Connected, state.LoggedIn)
	if status == instance.Status {
		return instance, nil
	}

	uc.logger.Info("Instance status changed",
		zap.Uint("instance_id", instance.ID),
		zap.String("from", instance.Status),
		zap.String("to", status),
	)
	instance.Status = status
	switch status {
	case entity.InstanceConnected:
		instance.QRCode = ""
		instance.Retries = 0
	case entity.InstanceQRCode:
		if state.QRCode != "" {
			instance.QRCode = state.QRCode
		}
	}
	if err := uc.save(ctx, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

func (uc *SessionUseCase) save(ctx context.Context, instance *entity.Instance) error {
	if err := uc.instances.Save(ctx, instance); err != nil {
		return err
	}
	uc.notifier.Notify(entity.InstancesChannel, service.EventInstanceUpdate, instanceEvent{Action: "update", Instance: NewInstanceView(instance)})
	return nil
}
