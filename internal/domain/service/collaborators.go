package service

import (
	"context"
	"io"
	"time"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
)

// ContactService resolves contacts. Dedup rules live behind it.
type ContactService interface {
	FindOrCreate(ctx context.Context, number, name string, isGroup bool) (*entity.Contact, error)
}

// TicketService resolves tickets and owns the ticket summary field.
type TicketService interface {
	FindOrCreate(ctx context.Context, contact *entity.Contact, instanceID uint, unread int) (*entity.Ticket, error)
	FindByID(ctx context.Context, id uint) (*entity.Ticket, error)
	UpdateLastMessage(ctx context.Context, ticket *entity.Ticket, summary string) error
}

// Realtime event names.
const (
	EventTicketUpdate   = "ticket.update"
	EventMessageCreate  = "message.create"
	EventMessageUpdate  = "message.update"
	EventInstanceUpdate = "instance.update"
)

// Notifier publishes to the realtime fan-out. Fire and forget.
type Notifier interface {
	Notify(channel, event string, payload any)
}

// TranscodeProfile names a fixed ffmpeg argument set.
type TranscodeProfile string

const (
	ProfileAACAudio  TranscodeProfile = "aac-audio"  // ogg/opus -> aac in mp4
	ProfileH264Video TranscodeProfile = "h264-video" // legacy flash video -> mp4
	ProfileVoiceNote TranscodeProfile = "voice-note" // any audio -> opus in ogg
)

// Transcoder runs an external transform. Partial output is removed on failure.
type Transcoder interface {
	Transcode(ctx context.Context, in, out string, profile TranscodeProfile) error
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// MaterializedMedia is a durable, servable copy of one media item.
type MaterializedMedia struct {
	StoredFileName string
	Kind           valueobject.MessageKind
	MimeType       string
}

// MediaMaterializer turns a provider media payload into a stored file.
type MediaMaterializer interface {
	Materialize(ctx context.Context, ep Endpoint, media *entity.MediaDescriptor) (*MaterializedMedia, error)
}

// FileStore is the public-serving directory. Names are bare, never paths.
type FileStore interface {
	GenerateName(original, ext string) string
	Write(name string, r io.Reader) error
	Path(name string) string
	Remove(name string) error
}

// URLResolver turns a stored file name into a fetchable URL.
type URLResolver interface {
	Resolve(name string) string
}

// PipelineObserver receives pipeline outcomes for metrics.
type PipelineObserver interface {
	WebhookReceived()
	MessageIngested()
	DuplicateAbsorbed()
	AdaptationSkipped()
	MediaFailed()
	TranscodeFellBack()
	DispatchFinished(ok bool, latency time.Duration)
}

// NoOpObserver is a PipelineObserver that records nothing.
type NoOpObserver struct{}

func (NoOpObserver) WebhookReceived()                     {}
func (NoOpObserver) MessageIngested()                     {}
func (NoOpObserver) DuplicateAbsorbed()                   {}
func (NoOpObserver) AdaptationSkipped()                   {}
func (NoOpObserver) MediaFailed()                         {}
func (NoOpObserver) TranscodeFellBack()                   {}
func (NoOpObserver) DispatchFinished(bool, time.Duration) {}
