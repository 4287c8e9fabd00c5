package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
	"github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// MemoryMessageRepository 内存实现的消息仓储（用于开发/测试）
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*entity.Message
	// 工单ID到消息ID列表的映射
	ticketMessages map[uint][]string
}

// NewMemoryMessageRepository 创建内存消息仓储
func NewMemoryMessageRepository() repository.MessageRepository {
	return &MemoryMessageRepository{
		messages:       make(map[string]*entity.Message),
		ticketMessages: make(map[uint][]string),
	}
}

// CreateIfAbsent 插入消息，已存在时不做任何事
func (r *MemoryMessageRepository) CreateIfAbsent(ctx context.Context, message *entity.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[message.ID()]; ok {
		return false, nil
	}
	r.messages[message.ID()] = message
	r.ticketMessages[message.TicketID()] = append(r.ticketMessages[message.TicketID()], message.ID())
	return true, nil
}

// FindByID 根据ID查找消息
func (r *MemoryMessageRepository) FindByID(ctx context.Context, id string) (*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[id]
	if !ok {
		return nil, errors.NewNotFoundError("message not found")
	}
	return message, nil
}

// Exists 消息是否已存在
func (r *MemoryMessageRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.messages[id]
	return ok, nil
}

// MarkDeleted 软删除
func (r *MemoryMessageRepository) MarkDeleted(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok {
		return false, nil
	}
	r.messages[id] = rebuild(m, m.Read(), m.Ack(), true)
	return true, nil
}

// UpdateAck 只提升确认级别
func (r *MemoryMessageRepository) UpdateAck(ctx context.Context, id string, level valueobject.AckLevel) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok || m.Ack() >= level {
		return false, nil
	}
	r.messages[id] = rebuild(m, m.Read() || level.MarksRead(), level, m.IsDeleted())
	return true, nil
}

// ListByTicket 按工单列出消息
func (r *MemoryMessageRepository) ListByTicket(ctx context.Context, ticketID uint, limit, offset int) ([]*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.ticketMessages[ticketID]
	all := make([]*entity.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := r.messages[id]; ok {
			all = append(all, msg)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt().Before(all[j].CreatedAt())
	})

	// 应用分页
	if offset >= len(all) {
		return []*entity.Message{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func rebuild(m *entity.Message, read bool, ack valueobject.AckLevel, deleted bool) *entity.Message {
	return entity.ReconstructMessage(
		m.ID(), m.TicketID(), m.ContactID(), m.QuotedMsgID(),
		m.Body(), m.MediaType(), m.MediaURL(), m.FileName(),
		m.FromMe(), read, ack, deleted, m.CreatedAt(),
	)
}
