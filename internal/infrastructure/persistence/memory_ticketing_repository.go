package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// MemoryContactRepository 内存联系人仓储
type MemoryContactRepository struct {
	mu       sync.Mutex
	nextID   uint
	byNumber map[string]*entity.Contact
	byID     map[uint]*entity.Contact
}

// NewMemoryContactRepository 创建内存联系人仓储
func NewMemoryContactRepository() repository.ContactRepository {
	return &MemoryContactRepository{
		byNumber: make(map[string]*entity.Contact),
		byID:     make(map[uint]*entity.Contact),
	}
}

// FindOrCreate 按号码查找或创建
func (r *MemoryContactRepository) FindOrCreate(ctx context.Context, contact *entity.Contact) (*entity.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byNumber[contact.Number]; ok {
		if existing.Name == existing.Number && contact.Name != "" && contact.Name != contact.Number {
			existing.Name = contact.Name
		}
		c := *existing
		return &c, nil
	}

	r.nextID++
	stored := *contact
	stored.ID = r.nextID
	stored.CreatedAt = time.Now().UTC()
	r.byNumber[stored.Number] = &stored
	r.byID[stored.ID] = &stored
	c := stored
	return &c, nil
}

// FindByID 根据ID查找联系人
func (r *MemoryContactRepository) FindByID(ctx context.Context, id uint) (*entity.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("contact not found")
	}
	out := *c
	return &out, nil
}

// MemoryTicketRepository 内存工单仓储
type MemoryTicketRepository struct {
	mu      sync.Mutex
	nextID  uint
	tickets map[uint]*entity.Ticket
}

// NewMemoryTicketRepository 创建内存工单仓储
func NewMemoryTicketRepository() repository.TicketRepository {
	return &MemoryTicketRepository{tickets: make(map[uint]*entity.Ticket)}
}

// FindActive 查找最新的未关闭工单
func (r *MemoryTicketRepository) FindActive(ctx context.Context, contactID, instanceID uint) (*entity.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *entity.Ticket
	for _, t := range r.tickets {
		if t.ContactID != contactID || t.InstanceID != instanceID || t.Status == entity.TicketClosed {
			continue
		}
		if found == nil || t.ID > found.ID {
			found = t
		}
	}
	if found == nil {
		return nil, errors.NewNotFoundError("ticket not found")
	}
	out := *found
	return &out, nil
}

// Create 创建工单
func (r *MemoryTicketRepository) Create(ctx context.Context, ticket *entity.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ticket.ID = r.nextID
	ticket.UpdatedAt = time.Now().UTC()
	stored := *ticket
	r.tickets[stored.ID] = &stored
	return nil
}

// FindByID 根据ID查找工单
func (r *MemoryTicketRepository) FindByID(ctx context.Context, id uint) (*entity.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[id]
	if !ok {
		return nil, errors.NewNotFoundError("ticket not found")
	}
	out := *t
	return &out, nil
}

// AddUnread 递增未读数
func (r *MemoryTicketRepository) AddUnread(ctx context.Context, id uint, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[id]
	if !ok {
		return errors.NewNotFoundError("ticket not found")
	}
	t.UnreadMessages += n
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateLastMessage 更新工单摘要
func (r *MemoryTicketRepository) UpdateLastMessage(ctx context.Context, id uint, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[id]
	if !ok {
		return errors.NewNotFoundError("ticket not found")
	}
	t.LastMessage = summary
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryInstanceRepository 内存实例仓储
type MemoryInstanceRepository struct {
	mu        sync.RWMutex
	nextID    uint
	instances map[uint]*entity.Instance
}

// NewMemoryInstanceRepository 创建内存实例仓储
func NewMemoryInstanceRepository() repository.InstanceRepository {
	return &MemoryInstanceRepository{instances: make(map[uint]*entity.Instance)}
}

// Create 创建实例
func (r *MemoryInstanceRepository) Create(ctx context.Context, instance *entity.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.instances {
		if existing.Name == instance.Name {
			return errors.NewInvalidInputError("instance name already in use")
		}
	}
	r.nextID++
	now := time.Now().UTC()
	instance.ID = r.nextID
	instance.CreatedAt = now
	instance.UpdatedAt = now
	stored := *instance
	r.instances[stored.ID] = &stored
	return nil
}

// Save 保存实例
func (r *MemoryInstanceRepository) Save(ctx context.Context, instance *entity.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[instance.ID]; !ok {
		return errors.NewNotFoundError("instance not found")
	}
	instance.UpdatedAt = time.Now().UTC()
	stored := *instance
	r.instances[stored.ID] = &stored
	return nil
}

// FindByID 根据ID查找实例
func (r *MemoryInstanceRepository) FindByID(ctx context.Context, id uint) (*entity.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.instances[id]
	if !ok {
		return nil, errors.NewNotFoundError("instance not found")
	}
	out := *i
	return &out, nil
}

// List 列出所有实例
func (r *MemoryInstanceRepository) List(ctx context.Context) ([]*entity.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Instance, 0, len(r.instances))
	for _, i := range r.instances {
		c := *i
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// Delete 删除实例
func (r *MemoryInstanceRepository) Delete(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[id]; !ok {
		return errors.NewNotFoundError("instance not found")
	}
	delete(r.instances, id)
	return nil
}
