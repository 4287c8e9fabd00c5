// Package ticketing holds the minimal contact and ticket services the message
// pipelines delegate to. Queue assignment and ticket lifecycle rules beyond
// "find the open ticket or start a pending one" are not handled here.
package ticketing

import (
	"context"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// ContactService 联系人服务
type ContactService struct {
	repo   repository.ContactRepository
	logger *zap.Logger
}

var _ service.ContactService = (*ContactService)(nil)

// NewContactService 创建联系人服务
func NewContactService(repo repository.ContactRepository, logger *zap.Logger) *ContactService {
	return &ContactService{
		repo:   repo,
		logger: logger.With(zap.String("component", "contact-service")),
	}
}

// FindOrCreate resolves the contact for a canonical number.
func (s *ContactService) FindOrCreate(ctx context.Context, number, name string, isGroup bool) (*entity.Contact, error) {
	contact, err := entity.NewContact(number, name, isGroup)
	if err != nil {
		return nil, domainErrors.NewInvalidInputError(err.Error())
	}
	return s.repo.FindOrCreate(ctx, contact)
}

// TicketService 工单服务
type TicketService struct {
	repo   repository.TicketRepository
	logger *zap.Logger
}

var _ service.TicketService = (*TicketService)(nil)

// NewTicketService 创建工单服务
func NewTicketService(repo repository.TicketRepository, logger *zap.Logger) *TicketService {
	return &TicketService{
		repo:   repo,
		logger: logger.With(zap.String("component", "ticket-service")),
	}
}

// FindOrCreate returns the active ticket for (contact, instance) and adds
// unread to its counter, or opens a new pending ticket.
func (s *TicketService) FindOrCreate(ctx context.Context, contact *entity.Contact, instanceID uint, unread int) (*entity.Ticket, error) {
	ticket, err := s.repo.FindActive(ctx, contact.ID, instanceID)
	if err == nil {
		if unread > 0 {
			if err := s.repo.AddUnread(ctx, ticket.ID, unread); err != nil {
				return nil, err
			}
			ticket.UnreadMessages += unread
		}
		return ticket, nil
	}
	if !domainErrors.IsNotFound(err) {
		return nil, err
	}

	ticket = &entity.Ticket{
		ContactID:      contact.ID,
		InstanceID:     instanceID,
		Status:         entity.TicketPending,
		UnreadMessages: unread,
	}
	if err := s.repo.Create(ctx, ticket); err != nil {
		return nil, err
	}
	s.logger.Info("Ticket created",
		zap.Uint("ticket_id", ticket.ID),
		zap.Uint("contact_id", contact.ID),
		zap.Uint("instance_id", instanceID),
	)
	return ticket, nil
}

// FindByID 根据ID查找工单
func (s *TicketService) FindByID(ctx context.Context, id uint) (*entity.Ticket, error) {
	return s.repo.FindByID(ctx, id)
}

// UpdateLastMessage 更新工单摘要
func (s *TicketService) UpdateLastMessage(ctx context.Context, ticket *entity.Ticket, summary string) error {
	if err := s.repo.UpdateLastMessage(ctx, ticket.ID, summary); err != nil {
		return err
	}
	ticket.LastMessage = summary
	return nil
}
