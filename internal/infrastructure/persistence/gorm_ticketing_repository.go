package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// GormContactRepository GORM 实现的联系人仓储
type GormContactRepository struct {
	db *gorm.DB
}

// NewGormContactRepository 创建联系人仓储
func NewGormContactRepository(db *gorm.DB) repository.ContactRepository {
	return &GormContactRepository{db: db}
}

// FindOrCreate inserts on the unique number and reads the winner back, so
// concurrent first messages from one number share a contact.
func (r *GormContactRepository) FindOrCreate(ctx context.Context, contact *entity.Contact) (*entity.Contact, error) {
	db := r.db.WithContext(ctx)
	candidate := models.ContactModel{Name: contact.Name, Number: contact.Number, IsGroup: contact.IsGroup}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		DoNothing: true,
	}).Create(&candidate).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to create contact", err)
	}

	var model models.ContactModel
	if err := db.First(&model, "number = ?", contact.Number).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to load contact", err)
	}

	// 名称只在仍是号码占位时更新
	if model.Name == model.Number && contact.Name != "" && contact.Name != contact.Number {
		if err := db.Model(&model).Update("name", contact.Name).Error; err == nil {
			model.Name = contact.Name
		}
	}
	return contactToEntity(&model), nil
}

// FindByID 根据ID查找联系人
func (r *GormContactRepository) FindByID(ctx context.Context, id uint) (*entity.Contact, error) {
	var model models.ContactModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("contact not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find contact", err)
	}
	return contactToEntity(&model), nil
}

func contactToEntity(m *models.ContactModel) *entity.Contact {
	return &entity.Contact{ID: m.ID, Name: m.Name, Number: m.Number, IsGroup: m.IsGroup, CreatedAt: m.CreatedAt}
}

// GormTicketRepository GORM 实现的工单仓储
type GormTicketRepository struct {
	db *gorm.DB
}

// NewGormTicketRepository 创建工单仓储
func NewGormTicketRepository(db *gorm.DB) repository.TicketRepository {
	return &GormTicketRepository{db: db}
}

// FindActive 查找联系人在该实例下最新的未关闭工单
func (r *GormTicketRepository) FindActive(ctx context.Context, contactID, instanceID uint) (*entity.Ticket, error) {
	var model models.TicketModel
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND instance_id = ? AND status <> ?", contactID, instanceID, entity.TicketClosed).
		Order("id desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("ticket not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find ticket", err)
	}
	return ticketToEntity(&model), nil
}

// Create 创建工单，回填 ID
func (r *GormTicketRepository) Create(ctx context.Context, ticket *entity.Ticket) error {
	model := models.TicketModel{
		ContactID:      ticket.ContactID,
		InstanceID:     ticket.InstanceID,
		Status:         ticket.Status,
		UnreadMessages: ticket.UnreadMessages,
		LastMessage:    ticket.LastMessage,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create ticket", err)
	}
	ticket.ID = model.ID
	ticket.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID 根据ID查找工单
func (r *GormTicketRepository) FindByID(ctx context.Context, id uint) (*entity.Ticket, error) {
	var model models.TicketModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("ticket not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find ticket", err)
	}
	return ticketToEntity(&model), nil
}

// AddUnread 原子递增未读数
func (r *GormTicketRepository) AddUnread(ctx context.Context, id uint, n int) error {
	err := r.db.WithContext(ctx).
		Model(&models.TicketModel{}).
		Where("id = ?", id).
		Update("unread_messages", gorm.Expr("unread_messages + ?", n)).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update unread", err)
	}
	return nil
}

// UpdateLastMessage 更新工单摘要
func (r *GormTicketRepository) UpdateLastMessage(ctx context.Context, id uint, summary string) error {
	result := r.db.WithContext(ctx).
		Model(&models.TicketModel{}).
		Where("id = ?", id).
		Update("last_message", summary)
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update ticket", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("ticket not found")
	}
	return nil
}

func ticketToEntity(m *models.TicketModel) *entity.Ticket {
	return &entity.Ticket{
		ID:             m.ID,
		ContactID:      m.ContactID,
		InstanceID:     m.InstanceID,
		Status:         m.Status,
		UnreadMessages: m.UnreadMessages,
		LastMessage:    m.LastMessage,
		UpdatedAt:      m.UpdatedAt,
	}
}

// GormInstanceRepository GORM 实现的实例仓储
type GormInstanceRepository struct {
	db *gorm.DB
}

// NewGormInstanceRepository 创建实例仓储
func NewGormInstanceRepository(db *gorm.DB) repository.InstanceRepository {
	return &GormInstanceRepository{db: db}
}

// Create 创建实例，回填 ID
func (r *GormInstanceRepository) Create(ctx context.Context, instance *entity.Instance) error {
	model := instanceToModel(instance)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create instance", err)
	}
	instance.ID = model.ID
	instance.CreatedAt = model.CreatedAt
	instance.UpdatedAt = model.UpdatedAt
	return nil
}

// Save 保存实例
func (r *GormInstanceRepository) Save(ctx context.Context, instance *entity.Instance) error {
	if instance.ID == 0 {
		return domainErrors.NewInvalidInputError("instance has no id")
	}
	model := instanceToModel(instance)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to save instance", err)
	}
	instance.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID 根据ID查找实例
func (r *GormInstanceRepository) FindByID(ctx context.Context, id uint) (*entity.Instance, error) {
	var model models.InstanceModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("instance not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find instance", err)
	}
	return instanceToEntity(&model), nil
}

// List 列出所有实例
func (r *GormInstanceRepository) List(ctx context.Context) ([]*entity.Instance, error) {
	var modelList []models.InstanceModel
	if err := r.db.WithContext(ctx).Order("id asc").Find(&modelList).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list instances", err)
	}
	out := make([]*entity.Instance, 0, len(modelList))
	for i := range modelList {
		out = append(out, instanceToEntity(&modelList[i]))
	}
	return out, nil
}

// Delete 删除实例
func (r *GormInstanceRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.InstanceModel{}, id)
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to delete instance", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("instance not found")
	}
	return nil
}

func instanceToModel(i *entity.Instance) *models.InstanceModel {
	return &models.InstanceModel{
		ID:                 i.ID,
		Name:               i.Name,
		Transport:          i.Transport,
		Status:             i.Status,
		QRCode:             i.QRCode,
		Retries:            i.Retries,
		BaseURL:            i.BaseURL,
		ProviderInstanceID: i.ProviderInstanceID,
		Token:              i.Token,
		FarewellMessage:    i.FarewellMessage,
		CreatedAt:          i.CreatedAt,
	}
}

func instanceToEntity(m *models.InstanceModel) *entity.Instance {
	return &entity.Instance{
		ID:                 m.ID,
		Name:               m.Name,
		Transport:          m.Transport,
		Status:             m.Status,
		QRCode:             m.QRCode,
		Retries:            m.Retries,
		BaseURL:            m.BaseURL,
		ProviderInstanceID: m.ProviderInstanceID,
		Token:              m.Token,
		FarewellMessage:    m.FarewellMessage,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
