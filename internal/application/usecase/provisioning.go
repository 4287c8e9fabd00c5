package usecase

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// WebhookPath is the route prefix gateway users post their webhooks to.
const WebhookPath = "/webhooks/wuzapi/"

// ProvisionInput 创建实例的参数
type ProvisionInput struct {
	Name            string
	BaseURL         string
	AdminToken      string
	FarewellMessage string
}

// ProvisioningUseCase creates and removes gateway users for instances.
type ProvisioningUseCase struct {
	instances      repository.InstanceRepository
	admin          service.AdminGateway
	session        *SessionUseCase
	webhookBaseURL string
	logger         *zap.Logger
}

// NewProvisioningUseCase 创建实例开通用例
func NewProvisioningUseCase(
	instances repository.InstanceRepository,
	admin service.AdminGateway,
	session *SessionUseCase,
	webhookBaseURL string,
	logger *zap.Logger,
) *ProvisioningUseCase {
	return &ProvisioningUseCase{
		instances:      instances,
		admin:          admin,
		session:        session,
		webhookBaseURL: strings.TrimRight(webhookBaseURL, "/"),
		logger:         logger.With(zap.String("component", "provisioning")),
	}
}

// WebhookURL returns the webhook address registered for an instance.
func (uc *ProvisioningUseCase) WebhookURL(instanceID uint) string {
	return uc.webhookBaseURL + WebhookPath + strconv.FormatUint(uint64(instanceID), 10)
}

// Provision stores a new instance and registers a gateway user whose webhook
// points back at it. The instance row exists first because its id is part of
// the webhook URL; it is removed again when the gateway refuses the user.
func (uc *ProvisioningUseCase) Provision(ctx context.Context, in ProvisionInput) (*entity.Instance, error) {
	if in.BaseURL == "" {
		return nil, domainErrors.NewInvalidInputError("gateway base url is required")
	}
	instance, err := entity.NewInstance(in.Name, entity.TransportWuzapi, in.BaseURL)
	if err != nil {
		return nil, domainErrors.NewInvalidInputError(err.Error())
	}
	instance.FarewellMessage = in.FarewellMessage
	if err := uc.instances.Create(ctx, instance); err != nil {
		return nil, err
	}

	res, err := uc.admin.CreateUser(ctx, instance.BaseURL, in.AdminToken, service.ProvisionRequest{
		Name:       instance.Name,
		Token:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		WebhookURL: uc.WebhookURL(instance.ID),
	})
	if err != nil {
		if derr := uc.instances.Delete(ctx, instance.ID); derr != nil {
			uc.logger.Warn("Failed to roll back instance", zap.Uint("instance_id", instance.ID), zap.Error(derr))
		}
		return nil, err
	}

	instance.ProviderInstanceID = res.ID
	instance.Token = res.Token
	if err := uc.instances.Save(ctx, instance); err != nil {
		return nil, err
	}
	uc.logger.Info("Instance provisioned",
		zap.Uint("instance_id", instance.ID),
		zap.String("provider_id", res.ID),
	)

	// 尽力而为的状态同步
	if refreshed, err := uc.session.Status(ctx, instance.ID); err != nil {
		uc.logger.Warn("Initial status poll failed", zap.Uint("instance_id", instance.ID), zap.Error(err))
	} else {
		instance = refreshed
	}
	return instance, nil
}

// Deprovision removes the gateway user and the stored instance.
func (uc *ProvisioningUseCase) Deprovision(ctx context.Context, instanceID uint, adminToken string) error {
	instance, err := uc.instances.FindByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if instance.UsesGateway() && instance.ProviderInstanceID != "" {
		if err := uc.admin.DeleteUser(ctx, instance.BaseURL, adminToken, instance.ProviderInstanceID); err != nil {
			return err
		}
	}
	if err := uc.instances.Delete(ctx, instanceID); err != nil {
		return err
	}
	uc.logger.Info("Instance deprovisioned", zap.Uint("instance_id", instanceID))
	return nil
}
