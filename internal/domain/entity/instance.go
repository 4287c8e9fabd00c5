package entity

import (
	"strings"
	"time"
)

// Transport variants for a provider connection.
const (
	TransportWuzapi = "wuzapi" // HTTP gateway, webhook driven
	TransportWWebJS = "wwebjs" // legacy in-process client
)

// Instance statuses.
const (
	InstanceConnected    = "CONNECTED"
	InstanceDisconnected = "DISCONNECTED"
	InstanceQRCode       = "qrcode"
	InstanceOpening      = "OPENING"
)

// Instance 一个 WhatsApp 账号连接
type Instance struct {
	ID                 uint
	Name               string
	Transport          string
	Status             string
	QRCode             string
	Retries            int
	BaseURL            string
	ProviderInstanceID string
	Token              string
	FarewellMessage    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewInstance 创建实例
func NewInstance(name, transport, baseURL string) (*Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInstanceName
	}
	if transport == "" {
		transport = TransportWuzapi
	}
	return &Instance{
		Name:      name,
		Transport: transport,
		Status:    InstanceOpening,
		BaseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

// UsesGateway reports whether the instance is served by the HTTP gateway.
func (i *Instance) UsesGateway() bool {
	return i.Transport == TransportWuzapi
}

// IsFarewell reports whether body equals the configured farewell message.
func (i *Instance) IsFarewell(body string) bool {
	return i.FarewellMessage != "" && i.FarewellMessage == body
}

// SessionStatus maps gateway session flags to an instance status.
func SessionStatus(connected, loggedIn bool) string {
	switch {
	case connected && loggedIn:
		return InstanceConnected
	case connected:
		return InstanceQRCode
	}
	return InstanceDisconnected
}
