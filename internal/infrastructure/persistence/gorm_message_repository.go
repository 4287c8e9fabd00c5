package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// GormMessageRepository GORM 实现的消息仓储
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GORM 消息仓储
func NewGormMessageRepository(db *gorm.DB) repository.MessageRepository {
	return &GormMessageRepository{
		db: db,
	}
}

// CreateIfAbsent relies on the primary key: INSERT ... ON CONFLICT DO NOTHING,
// so two concurrent inserts of the same id yield exactly one row.
func (r *GormMessageRepository) CreateIfAbsent(ctx context.Context, message *entity.Message) (bool, error) {
	model := r.toModel(message)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if result.Error != nil {
		return false, domainErrors.NewInternalErrorWithCause("failed to create message", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// FindByID 根据ID查找消息
func (r *GormMessageRepository) FindByID(ctx context.Context, id string) (*entity.Message, error) {
	var model models.MessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("message not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find message", err)
	}
	return r.toEntity(&model), nil
}

// Exists 消息是否已存在
func (r *GormMessageRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, domainErrors.NewInternalErrorWithCause("failed to check message", err)
	}
	return count > 0, nil
}

// MarkDeleted 软删除
func (r *GormMessageRepository) MarkDeleted(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ?", id).
		Update("is_deleted", true)
	if result.Error != nil {
		return false, domainErrors.NewInternalErrorWithCause("failed to delete message", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateAck only moves the level forward; the guard lives in the WHERE clause
// so out-of-order receipts cannot regress it.
func (r *GormMessageRepository) UpdateAck(ctx context.Context, id string, level valueobject.AckLevel) (bool, error) {
	updates := map[string]interface{}{"ack": int(level)}
	if level.MarksRead() {
		updates["read"] = true
	}
	result := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("id = ? AND ack < ?", id, int(level)).
		Updates(updates)
	if result.Error != nil {
		return false, domainErrors.NewInternalErrorWithCause("failed to update ack", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByTicket 按工单列出消息
func (r *GormMessageRepository) ListByTicket(ctx context.Context, ticketID uint, limit, offset int) ([]*entity.Message, error) {
	var modelList []models.MessageModel
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at asc").
		Limit(limit).
		Offset(offset).
		Find(&modelList).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to find messages", err)
	}

	messages := make([]*entity.Message, 0, len(modelList))
	for i := range modelList {
		messages = append(messages, r.toEntity(&modelList[i]))
	}
	return messages, nil
}

// 转换方法

func (r *GormMessageRepository) toModel(m *entity.Message) *models.MessageModel {
	return &models.MessageModel{
		ID:          m.ID(),
		TicketID:    m.TicketID(),
		ContactID:   m.ContactID(),
		QuotedMsgID: m.QuotedMsgID(),
		Body:        m.Body(),
		MediaType:   string(m.MediaType()),
		MediaURL:    m.MediaURL(),
		FileName:    m.FileName(),
		FromMe:      m.FromMe(),
		Read:        m.Read(),
		Ack:         int(m.Ack()),
		IsDeleted:   m.IsDeleted(),
		CreatedAt:   m.CreatedAt(),
	}
}

func (r *GormMessageRepository) toEntity(model *models.MessageModel) *entity.Message {
	return entity.ReconstructMessage(
		model.ID,
		model.TicketID,
		model.ContactID,
		model.QuotedMsgID,
		model.Body,
		valueobject.MessageKind(model.MediaType),
		model.MediaURL,
		model.FileName,
		model.FromMe,
		model.Read,
		valueobject.AckLevel(model.Ack),
		model.IsDeleted,
		model.CreatedAt,
	)
}
