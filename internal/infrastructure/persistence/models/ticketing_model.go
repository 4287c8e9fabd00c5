package models

import (
	"time"
)

// ContactModel 联系人模型
type ContactModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:255;not null"`
	Number    string `gorm:"uniqueIndex;size:64;not null"`
	IsGroup   bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名
func (ContactModel) TableName() string {
	return "contacts"
}

// TicketModel 工单模型
type TicketModel struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ContactID      uint   `gorm:"index:idx_ticket_contact_instance;not null"`
	InstanceID     uint   `gorm:"index:idx_ticket_contact_instance;not null"`
	Status         string `gorm:"index;size:16;not null"`
	UnreadMessages int    `gorm:"not null;default:0"`
	LastMessage    string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定表名
func (TicketModel) TableName() string {
	return "tickets"
}

// InstanceModel 实例模型
type InstanceModel struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement"`
	Name               string `gorm:"uniqueIndex;size:64;not null"`
	Transport          string `gorm:"size:16;not null"`
	Status             string `gorm:"size:32"`
	QRCode             string `gorm:"type:text"`
	Retries            int
	BaseURL            string `gorm:"size:255"`
	ProviderInstanceID string `gorm:"size:128"`
	Token              string `gorm:"size:255"`
	FarewellMessage    string `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName 指定表名
func (InstanceModel) TableName() string {
	return "instances"
}
