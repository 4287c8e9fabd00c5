package usecase

import (
	"bytes"
	"context"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

const (
	voiceNoteMime    = "audio/ogg; codecs=opus"
	maxParallelFiles = 4
)

// Upload is one file attached to an outbound send.
type Upload struct {
	FileName string
	MimeType string
	Data     []byte
}

// SendInput is an application-initiated send on a ticket. Exactly one of
// Files, MediaURL or a bare Body drives the dispatch.
type SendInput struct {
	TicketID    uint
	Body        string
	QuotedMsgID string
	MediaURL    string // caller-hosted media, sent by reference
	MediaType   string
	Files       []Upload
}

// DispatchMessageUseCase sends to the gateway under a pre-assigned
// correlation id and records the message under that same id, so the
// gateway's echo of the send is absorbed as a duplicate.
type DispatchMessageUseCase struct {
	instances  repository.InstanceRepository
	contacts   repository.ContactRepository
	tickets    service.TicketService
	messages   repository.MessageRepository
	gateway    service.ProviderGateway
	store      service.FileStore
	resolver   service.URLResolver
	transcoder service.Transcoder
	notifier   service.Notifier
	observer   service.PipelineObserver
	newID      func() string
	logger     *zap.Logger
}

// NewDispatchMessageUseCase 创建出站消息用例
func NewDispatchMessageUseCase(
	instances repository.InstanceRepository,
	contacts repository.ContactRepository,
	tickets service.TicketService,
	messages repository.MessageRepository,
	gateway service.ProviderGateway,
	store service.FileStore,
	resolver service.URLResolver,
	transcoder service.Transcoder,
	notifier service.Notifier,
	observer service.PipelineObserver,
	logger *zap.Logger,
) *DispatchMessageUseCase {
	if observer == nil {
		observer = service.NoOpObserver{}
	}
	return &DispatchMessageUseCase{
		instances:  instances,
		contacts:   contacts,
		tickets:    tickets,
		messages:   messages,
		gateway:    gateway,
		store:      store,
		resolver:   resolver,
		transcoder: transcoder,
		notifier:   notifier,
		observer:   observer,
		newID:      uuid.NewString,
		logger:     logger.With(zap.String("component", "dispatch")),
	}
}

// target is everything resolved before the first gateway call.
type target struct {
	ticket   *entity.Ticket
	contact  *entity.Contact
	endpoint service.Endpoint
}

// Execute dispatches in and returns the persisted messages, one per file or a
// single one for text and remote media. With several files, the ones that went
// through are returned alongside the first error.
func (uc *DispatchMessageUseCase) Execute(ctx context.Context, in SendInput) ([]*entity.Message, error) {
	if strings.TrimSpace(in.Body) == "" && in.MediaURL == "" && len(in.Files) == 0 {
		return nil, domainErrors.NewInvalidInputError("message body or media is required")
	}

	tg, err := uc.resolve(ctx, in.TicketID)
	if err != nil {
		return nil, err
	}
	body := tg.contact.Render(in.Body)

	var sent []*entity.Message
	switch {
	case len(in.Files) > 0:
		sent, err = uc.sendFiles(ctx, tg, body, in.Files)
	case in.MediaURL != "":
		var m *entity.Message
		m, err = uc.sendRemote(ctx, tg, body, in)
		if m != nil {
			sent = []*entity.Message{m}
		}
	default:
		var m *entity.Message
		m, err = uc.sendText(ctx, tg, body, in.QuotedMsgID)
		if m != nil {
			sent = []*entity.Message{m}
		}
	}

	if len(sent) > 0 {
		uc.finish(context.WithoutCancel(ctx), tg.ticket, sent)
	}
	return sent, err
}

func (uc *DispatchMessageUseCase) resolve(ctx context.Context, ticketID uint) (*target, error) {
	ticket, err := uc.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	instance, err := uc.instances.FindByID(ctx, ticket.InstanceID)
	if err != nil {
		return nil, err
	}
	if !instance.UsesGateway() {
		return nil, domainErrors.NewUnsupportedTransportError(instance.Transport)
	}
	contact, err := uc.contacts.FindByID(ctx, ticket.ContactID)
	if err != nil {
		return nil, err
	}
	return &target{ticket: ticket, contact: contact, endpoint: service.EndpointFor(instance)}, nil
}

func (uc *DispatchMessageUseCase) sendText(ctx context.Context, tg *target, body, quotedID string) (*entity.Message, error) {
	id := uc.newID()
	start := time.Now()
	_, err := uc.gateway.SendText(ctx, tg.endpoint, service.TextRequest{
		Phone:    tg.contact.Number,
		Body:     body,
		ID:       id,
		QuotedID: quotedID,
	})
	uc.observer.DispatchFinished(err == nil, time.Since(start))
	if err != nil {
		return nil, dispatchError("send text", err)
	}
	return uc.record(ctx, entity.MessageParams{
		ID:          id,
		TicketID:    tg.ticket.ID,
		QuotedMsgID: quotedID,
		Body:        body,
		MediaType:   valueobject.KindText,
	})
}

func (uc *DispatchMessageUseCase) sendRemote(ctx context.Context, tg *target, caption string, in SendInput) (*entity.Message, error) {
	kind := valueobject.ParseKind(in.MediaType)
	if !kind.IsMedia() {
		kind = valueobject.KindDocument
	}
	fileName := path.Base(in.MediaURL)

	id := uc.newID()
	start := time.Now()
	_, err := uc.gateway.SendMedia(ctx, tg.endpoint, service.MediaRequest{
		Phone:    tg.contact.Number,
		URL:      in.MediaURL,
		Caption:  caption,
		Kind:     kind,
		FileName: fileName,
		ID:       id,
	})
	uc.observer.DispatchFinished(err == nil, time.Since(start))
	if err != nil {
		return nil, dispatchError("send remote media", err)
	}
	return uc.record(ctx, entity.MessageParams{
		ID:        id,
		TicketID:  tg.ticket.ID,
		Body:      firstNonEmpty(caption, fileName),
		MediaType: kind,
		MediaURL:  in.MediaURL,
		FileName:  fileName,
	})
}

func (uc *DispatchMessageUseCase) sendFiles(ctx context.Context, tg *target, caption string, files []Upload) ([]*entity.Message, error) {
	results := make([]*entity.Message, len(files))

	// 已发出的网关调用不可取消，所以这里不用 errgroup.WithContext
	var g errgroup.Group
	g.SetLimit(maxParallelFiles)
	for i := range files {
		i := i
		g.Go(func() error {
			c := ""
			if i == 0 {
				c = caption
			}
			m, err := uc.sendFile(ctx, tg, c, files[i])
			results[i] = m
			return err
		})
	}
	err := g.Wait()

	sent := make([]*entity.Message, 0, len(results))
	for _, m := range results {
		if m != nil {
			sent = append(sent, m)
		}
	}
	return sent, err
}

func (uc *DispatchMessageUseCase) sendFile(ctx context.Context, tg *target, caption string, up Upload) (*entity.Message, error) {
	if len(up.Data) == 0 {
		return nil, domainErrors.NewInvalidInputError("empty upload: " + up.FileName)
	}
	mime := up.MimeType
	if mime == "" || strings.HasPrefix(mime, "application/octet-stream") {
		mime = mimetype.Detect(up.Data).String()
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(up.FileName)), ".")
	if ext == "" {
		if m := mimetype.Lookup(baseMime(mime)); m != nil {
			ext = strings.TrimPrefix(m.Extension(), ".")
		}
	}

	kind := valueobject.KindFromMime(mime)
	if kind == valueobject.KindAudio {
		return uc.sendVoiceNote(ctx, tg, up, mime, ext)
	}

	name := uc.store.GenerateName(up.FileName, ext)
	if err := uc.store.Write(name, bytes.NewReader(up.Data)); err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("store upload", err)
	}

	id := uc.newID()
	start := time.Now()
	_, err := uc.gateway.SendMedia(ctx, tg.endpoint, service.MediaRequest{
		Phone:    tg.contact.Number,
		URL:      uc.resolver.Resolve(name),
		Caption:  caption,
		Kind:     kind,
		FileName: up.FileName,
		MimeType: baseMime(mime),
		ID:       id,
	})
	uc.observer.DispatchFinished(err == nil, time.Since(start))
	if err != nil {
		uc.remove(name)
		return nil, dispatchError("send "+kind.String(), err)
	}

	return uc.record(ctx, entity.MessageParams{
		ID:        id,
		TicketID:  tg.ticket.ID,
		Body:      firstNonEmpty(caption, up.FileName),
		MediaType: kind,
		MediaURL:  name,
		FileName:  up.FileName,
	})
}

// sendVoiceNote converts audio to Opus/Ogg when needed and sends it inline as
// a push-to-talk note. The ogg file stays in the public directory.
func (uc *DispatchMessageUseCase) sendVoiceNote(ctx context.Context, tg *target, up Upload, mime, ext string) (*entity.Message, error) {
	srcName := uc.store.GenerateName(up.FileName, ext)
	if err := uc.store.Write(srcName, bytes.NewReader(up.Data)); err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("store upload", err)
	}

	oggName := srcName
	if !isOpusOgg(mime, ext) {
		if uc.transcoder == nil {
			uc.remove(srcName)
			return nil, domainErrors.NewTranscodeError("no transcoder configured for voice note", nil)
		}
		oggName = uc.store.GenerateName(up.FileName, "ogg")
		err := uc.transcoder.Transcode(ctx, uc.store.Path(srcName), uc.store.Path(oggName), service.ProfileVoiceNote)
		uc.remove(srcName)
		if err != nil {
			uc.remove(oggName)
			if domainErrors.IsTranscode(err) {
				return nil, err
			}
			return nil, domainErrors.NewTranscodeError("voice note transcode", err)
		}
	}

	audio, err := os.ReadFile(uc.store.Path(oggName))
	if err != nil {
		uc.remove(oggName)
		return nil, domainErrors.NewInternalErrorWithCause("read voice note", err)
	}
	seconds := uc.estimateSeconds(ctx, uc.store.Path(oggName), len(audio))

	id := uc.newID()
	start := time.Now()
	_, err = uc.gateway.SendVoiceNote(ctx, tg.endpoint, service.VoiceNoteRequest{
		Phone:    tg.contact.Number,
		Audio:    audio,
		MimeType: voiceNoteMime,
		Seconds:  seconds,
		ID:       id,
	})
	uc.observer.DispatchFinished(err == nil, time.Since(start))
	if err != nil {
		uc.remove(oggName)
		return nil, dispatchError("send voice note", err)
	}

	return uc.record(ctx, entity.MessageParams{
		ID:        id,
		TicketID:  tg.ticket.ID,
		Body:      entity.VoiceNoteSummary,
		MediaType: valueobject.KindVoiceNote,
		MediaURL:  oggName,
		FileName:  up.FileName,
	})
}

// estimateSeconds probes the duration, falling back to a byte-length estimate.
func (uc *DispatchMessageUseCase) estimateSeconds(ctx context.Context, p string, size int) int {
	if uc.transcoder != nil {
		d, err := uc.transcoder.ProbeDuration(ctx, p)
		if err == nil {
			return int(math.Ceil(d.Seconds()))
		}
		uc.logger.Debug("Duration probe failed, estimating from size", zap.Error(err))
	}
	return int(math.Ceil(float64(size) / 1024 / 16))
}

// record persists a message the gateway already accepted. The send cannot be
// taken back, so the write ignores caller cancellation.
func (uc *DispatchMessageUseCase) record(ctx context.Context, p entity.MessageParams) (*entity.Message, error) {
	ctx = context.WithoutCancel(ctx)
	p.CreatedAt = time.Now()
	message, err := entity.NewOutboundMessage(p)
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("build outbound message", err)
	}
	inserted, err := uc.messages.CreateIfAbsent(ctx, message)
	if err != nil {
		uc.logger.Error("Sent message not recorded",
			zap.String("message_id", p.ID),
			zap.Uint("ticket_id", p.TicketID),
			zap.Error(err),
		)
		return nil, err
	}
	if !inserted {
		// echo 比我们先到达
		uc.logger.Debug("Outbound message already recorded by echo", zap.String("message_id", p.ID))
	}
	return message, nil
}

// finish updates the ticket summary and publishes the sent messages.
func (uc *DispatchMessageUseCase) finish(ctx context.Context, ticket *entity.Ticket, sent []*entity.Message) {
	last := sent[len(sent)-1]
	if err := uc.tickets.UpdateLastMessage(ctx, ticket, last.Summary()); err != nil {
		uc.logger.Warn("Failed to update ticket summary", zap.Uint("ticket_id", ticket.ID), zap.Error(err))
	}
	for _, m := range sent {
		uc.notifier.Notify(ticket.MessageChannel(), service.EventMessageCreate, messageEvent{Action: "create", Message: NewMessageView(m, uc.resolver)})
	}
	uc.notifier.Notify(ticket.Channel(), service.EventTicketUpdate, ticketEvent{Action: "update", Ticket: NewTicketView(ticket)})
}

func (uc *DispatchMessageUseCase) remove(name string) {
	if err := uc.store.Remove(name); err != nil {
		uc.logger.Warn("Failed to remove media file", zap.String("file", name), zap.Error(err))
	}
}

func dispatchError(op string, err error) error {
	if domainErrors.IsGatewayDispatch(err) {
		return err
	}
	return domainErrors.NewGatewayDispatchError(op, err)
}

func isOpusOgg(mime, ext string) bool {
	mime = strings.ToLower(mime)
	if strings.Contains(mime, "ogg") || strings.Contains(mime, "opus") {
		return true
	}
	switch ext {
	case "ogg", "oga", "opus":
		return true
	}
	return false
}

func baseMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(mime)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
