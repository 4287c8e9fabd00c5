package models

import (
	"time"
)

// MessageModel 数据库消息模型
type MessageModel struct {
	ID          string  `gorm:"primaryKey;size:128"` // provider id or correlation id
	TicketID    uint    `gorm:"index;not null"`
	ContactID   *uint   `gorm:"index"`
	QuotedMsgID *string `gorm:"size:128"`
	Body        string  `gorm:"type:text"`
	MediaType   string  `gorm:"size:32;not null"`
	MediaURL    string  `gorm:"size:512"`
	FileName    string  `gorm:"size:255"`
	FromMe      bool    `gorm:"not null;default:false"`
	Read        bool    `gorm:"not null;default:false"`
	Ack         int     `gorm:"not null;default:0"`
	IsDeleted   bool    `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName 指定表名
func (MessageModel) TableName() string {
	return "messages"
}
