package usecase_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/ticketing"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/media"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/persistence"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/wuzapi"
	domainErrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// ─── Notifier ───

type notification struct {
	Channel string
	Event   string
	Payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *recordingNotifier) Notify(channel, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{channel, event, payload})
}

func (n *recordingNotifier) find(channel, event string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, e := range n.events {
		if e.Channel == channel && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// ─── Gateway ───

type fakeGateway struct {
	mu      sync.Mutex
	texts   []service.TextRequest
	medias  []service.MediaRequest
	voices  []service.VoiceNoteRequest
	sendErr error

	state      service.SessionState
	qr         string
	qrErr      error
	connects   int
	disconnect int

	users      []service.ProvisionRequest
	createErr  error
	deletedIDs []string

	// afterSend runs once the gateway has accepted a text send
	afterSend func()
}

func (g *fakeGateway) SendText(ctx context.Context, ep service.Endpoint, req service.TextRequest) (*service.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	if g.afterSend != nil {
		defer g.afterSend()
	}
	g.texts = append(g.texts, req)
	return &service.SendResult{ProviderMessageID: req.ID}, nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, ep service.Endpoint, req service.MediaRequest) (*service.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.medias = append(g.medias, req)
	return &service.SendResult{ProviderMessageID: req.ID}, nil
}

func (g *fakeGateway) SendVoiceNote(ctx context.Context, ep service.Endpoint, req service.VoiceNoteRequest) (*service.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return nil, g.sendErr
	}
	g.voices = append(g.voices, req)
	return &service.SendResult{ProviderMessageID: req.ID}, nil
}

func (g *fakeGateway) DownloadRemoteVideo(ctx context.Context, ep service.Endpoint, ref *entity.RemoteMedia) ([]byte, error) {
	return nil, domainErrors.NewMediaDownloadError("gateway declined", nil)
}

func (g *fakeGateway) Connect(ctx context.Context, ep service.Endpoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects++
	g.state.Connected = true
	return nil
}

func (g *fakeGateway) Disconnect(ctx context.Context, ep service.Endpoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnect++
	g.state = service.SessionState{}
	return nil
}

func (g *fakeGateway) QRCode(ctx context.Context, ep service.Endpoint) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.qr, g.qrErr
}

func (g *fakeGateway) Status(ctx context.Context, ep service.Endpoint) (*service.SessionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state
	return &s, nil
}

func (g *fakeGateway) CreateUser(ctx context.Context, baseURL, adminToken string, req service.ProvisionRequest) (*service.ProvisionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.users = append(g.users, req)
	return &service.ProvisionResult{ID: "u-1", Token: req.Token}, nil
}

func (g *fakeGateway) DeleteUser(ctx context.Context, baseURL, adminToken, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedIDs = append(g.deletedIDs, userID)
	return nil
}

// ─── Transcoder ───

type fakeTranscoder struct {
	fail     bool
	duration time.Duration
	probeErr error
	calls    atomic.Int32
	before   func()
}

func (f *fakeTranscoder) Transcode(ctx context.Context, in, out string, profile service.TranscodeProfile) error {
	f.calls.Add(1)
	if f.before != nil {
		f.before()
	}
	if f.fail {
		return domainErrors.NewTranscodeError("forced failure", nil)
	}
	return os.WriteFile(out, []byte("OggS-converted-"+string(profile)), 0o644)
}

func (f *fakeTranscoder) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.duration, nil
}

// ─── Observer ───

type countingObserver struct {
	service.NoOpObserver
	webhooks, ingested, duplicates, skips, mediaFailures atomic.Int32
	dispatchOK, dispatchFailed                          atomic.Int32
}

func (o *countingObserver) WebhookReceived()   { o.webhooks.Add(1) }
func (o *countingObserver) MessageIngested()   { o.ingested.Add(1) }
func (o *countingObserver) DuplicateAbsorbed() { o.duplicates.Add(1) }
func (o *countingObserver) AdaptationSkipped() { o.skips.Add(1) }
func (o *countingObserver) MediaFailed()       { o.mediaFailures.Add(1) }
func (o *countingObserver) DispatchFinished(ok bool, _ time.Duration) {
	if ok {
		o.dispatchOK.Add(1)
	} else {
		o.dispatchFailed.Add(1)
	}
}

// ─── Fixture ───

const publicBase = "http://bridge.test"

type fixture struct {
	ctx        context.Context
	messages   repository.MessageRepository
	contacts   repository.ContactRepository
	tickets    repository.TicketRepository
	instances  repository.InstanceRepository
	store      *media.LocalStore
	gateway    *fakeGateway
	transcoder *fakeTranscoder
	notifier   *recordingNotifier
	observer   *countingObserver

	router    *usecase.WebhookRouter
	ingest    *usecase.IngestMessageUseCase
	dispatch  *usecase.DispatchMessageUseCase
	session   *usecase.SessionUseCase
	provision *usecase.ProvisioningUseCase

	instance *entity.Instance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, &fixture{
		messages:  persistence.NewMemoryMessageRepository(),
		contacts:  persistence.NewMemoryContactRepository(),
		tickets:   persistence.NewMemoryTicketRepository(),
		instances: persistence.NewMemoryInstanceRepository(),
	})
}

// newSQLiteFixture backs the fixture with gorm repositories, which honor
// context cancellation.
func newSQLiteFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := persistence.NewDBConnection(&config.DatabaseConfig{
		Type:     "sqlite",
		DSN:      filepath.Join(t.TempDir(), "bridge.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return buildFixture(t, &fixture{
		messages:  persistence.NewGormMessageRepository(db),
		contacts:  persistence.NewGormContactRepository(db),
		tickets:   persistence.NewGormTicketRepository(db),
		instances: persistence.NewGormInstanceRepository(db),
	})
}

func buildFixture(t *testing.T, repos *fixture) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store, err := media.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		ctx:        context.Background(),
		messages:   repos.messages,
		contacts:   repos.contacts,
		tickets:    repos.tickets,
		instances:  repos.instances,
		store:      store,
		gateway:    &fakeGateway{qr: "data:image/png;base64,QR"},
		transcoder: &fakeTranscoder{duration: 2300 * time.Millisecond},
		notifier:   &recordingNotifier{},
		observer:   &countingObserver{},
	}
	resolver := media.URLResolver{BaseURL: publicBase}
	contactSvc := ticketing.NewContactService(f.contacts, logger)
	ticketSvc := ticketing.NewTicketService(f.tickets, logger)
	materializer := media.NewMaterializer(store, f.gateway, f.transcoder, f.observer, logger)

	f.ingest = usecase.NewIngestMessageUseCase(f.messages, contactSvc, ticketSvc, materializer, store, resolver, f.notifier, f.observer, logger)
	events := usecase.NewMessageEventsUseCase(f.messages, resolver, f.notifier, logger)
	f.router = usecase.NewWebhookRouter(f.instances, wuzapi.NewAdapter(logger), f.ingest, events, f.observer, logger)
	f.dispatch = usecase.NewDispatchMessageUseCase(f.instances, f.contacts, ticketSvc, f.messages, f.gateway, store, resolver, f.transcoder, f.notifier, f.observer, logger)
	f.session = usecase.NewSessionUseCase(f.instances, f.gateway, f.notifier, logger)
	f.provision = usecase.NewProvisioningUseCase(f.instances, f.gateway, f.session, "http://bridge.test/", logger)

	instance, err := entity.NewInstance("main", entity.TransportWuzapi, "http://gateway.test")
	require.NoError(t, err)
	instance.Token = "tok"
	require.NoError(t, f.instances.Create(f.ctx, instance))
	f.instance = instance
	return f
}

// openTicket creates a contact and a ticket on the fixture instance.
func (f *fixture) openTicket(t *testing.T, number, name string) *entity.Ticket {
	t.Helper()
	contact, err := entity.NewContact(number, name, false)
	require.NoError(t, err)
	contact, err = f.contacts.FindOrCreate(f.ctx, contact)
	require.NoError(t, err)
	ticket := &entity.Ticket{ContactID: contact.ID, InstanceID: f.instance.ID, Status: entity.TicketOpen}
	require.NoError(t, f.tickets.Create(f.ctx, ticket))
	return ticket
}

func (f *fixture) storedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.store.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var errGatewayDown = errors.New("gateway down")
