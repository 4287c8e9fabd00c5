package entity

import (
	"strconv"
	"strings"
	"time"
)

// Contact 联系人
type Contact struct {
	ID        uint
	Name      string
	Number    string
	IsGroup   bool
	CreatedAt time.Time
}

// NewContact 创建联系人，名称缺省为号码
func NewContact(number, name string, isGroup bool) (*Contact, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, ErrInvalidContactNumber
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = number
	}
	return &Contact{Name: name, Number: number, IsGroup: isGroup}, nil
}

// Ticket statuses. The status doubles as the realtime channel key.
const (
	TicketPending = "pending"
	TicketOpen    = "open"
	TicketClosed  = "closed"
)

// Ticket 工单
type Ticket struct {
	ID             uint
	ContactID      uint
	InstanceID     uint
	Status         string
	UnreadMessages int
	LastMessage    string
	UpdatedAt      time.Time
}

// Channel 返回工单的实时频道
func (t *Ticket) Channel() string {
	return t.Status
}

// MessageChannel is the realtime channel for message events of this ticket.
func (t *Ticket) MessageChannel() string {
	return TicketChannel(t.ID)
}

// TicketChannel 工单消息频道名
func TicketChannel(id uint) string {
	return "ticket:" + strconv.FormatUint(uint64(id), 10)
}

// InstancesChannel carries instance.update events.
const InstancesChannel = "instances"

// Render fills {{name}} and {{number}} placeholders with the contact's values.
func (c *Contact) Render(body string) string {
	if c == nil || !strings.Contains(body, "{{") {
		return body
	}
	return strings.NewReplacer(
		"{{name}}", c.Name,
		"{{number}}", c.Number,
	).Replace(body)
}
