package service

import (
	"context"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

// Endpoint addresses one gateway account: the gateway base URL plus the
// per-instance user token.
type Endpoint struct {
	BaseURL string
	Token   string
}

// EndpointFor 从实例构建网关端点
func EndpointFor(instance *entity.Instance) Endpoint {
	return Endpoint{BaseURL: instance.BaseURL, Token: instance.Token}
}

// TextRequest 文本发送请求
type TextRequest struct {
	Phone    string
	Body     string
	ID       string
	QuotedID string
}

// MediaRequest sends a media item the provider fetches from URL.
type MediaRequest struct {
	Phone    string
	URL      string
	Caption  string
	Kind     valueobject.MessageKind
	FileName string
	MimeType string
	ID       string
}

// VoiceNoteRequest sends Opus/Ogg bytes inline as a push-to-talk note.
type VoiceNoteRequest struct {
	Phone    string
	Audio    []byte
	MimeType string
	Seconds  int
	ID       string
}

// SendResult 发送结果
type SendResult struct {
	ProviderMessageID string
}

// ProviderGateway is the outbound half of the gateway contract. Every
// non-success response is an error; callers never retry.
type ProviderGateway interface {
	SendText(ctx context.Context, ep Endpoint, req TextRequest) (*SendResult, error)
	SendMedia(ctx context.Context, ep Endpoint, req MediaRequest) (*SendResult, error)
	SendVoiceNote(ctx context.Context, ep Endpoint, req VoiceNoteRequest) (*SendResult, error)
	DownloadRemoteVideo(ctx context.Context, ep Endpoint, ref *entity.RemoteMedia) ([]byte, error)
}

// SessionState 网关会话状态
type SessionState struct {
	Connected bool
	LoggedIn  bool
	QRCode    string
	JID       string
}

// SessionGateway 网关会话控制
type SessionGateway interface {
	Connect(ctx context.Context, ep Endpoint) error
	Disconnect(ctx context.Context, ep Endpoint) error
	QRCode(ctx context.Context, ep Endpoint) (string, error)
	Status(ctx context.Context, ep Endpoint) (*SessionState, error)
}

// ProvisionRequest 创建网关用户的请求
type ProvisionRequest struct {
	Name       string
	Token      string
	WebhookURL string
	Events     []string
}

// ProvisionResult 网关用户信息
type ProvisionResult struct {
	ID    string
	Token string
}

// AdminGateway manages gateway users with the admin token.
type AdminGateway interface {
	CreateUser(ctx context.Context, baseURL, adminToken string, req ProvisionRequest) (*ProvisionResult, error)
	DeleteUser(ctx context.Context, baseURL, adminToken, userID string) error
}
