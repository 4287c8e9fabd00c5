package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/ticketing"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/eventbus"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/media"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/monitoring"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/persistence"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/infrastructure/wuzapi"
)

type stubGateway struct {
	mu    sync.Mutex
	texts []service.TextRequest
	media []service.MediaRequest
	fail  error
}

func (g *stubGateway) SendText(ctx context.Context, ep service.Endpoint, req service.TextRequest) (*service.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	g.texts = append(g.texts, req)
	return &service.SendResult{ProviderMessageID: req.ID}, nil
}

func (g *stubGateway) SendMedia(ctx context.Context, ep service.Endpoint, req service.MediaRequest) (*service.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	g.media = append(g.media, req)
	return &service.SendResult{ProviderMessageID: req.ID}, nil
}

func (g *stubGateway) SendVoiceNote(ctx context.Context, ep service.Endpoint, req service.VoiceNoteRequest) (*service.SendResult, error) {
	return &service.SendResult{ProviderMessageID: req.ID}, nil
}

func (g *stubGateway) DownloadRemoteVideo(ctx context.Context, ep service.Endpoint, ref *entity.RemoteMedia) ([]byte, error) {
	return []byte("mp4"), nil
}

func (g *stubGateway) Connect(ctx context.Context, ep service.Endpoint) error    { return nil }
func (g *stubGateway) Disconnect(ctx context.Context, ep service.Endpoint) error { return nil }
func (g *stubGateway) QRCode(ctx context.Context, ep service.Endpoint) (string, error) {
	return "QR", nil
}
func (g *stubGateway) Status(ctx context.Context, ep service.Endpoint) (*service.SessionState, error) {
	return &service.SessionState{Connected: true, LoggedIn: true}, nil
}

type testEnv struct {
	handler   http.Handler
	messages  repository.MessageRepository
	tickets   repository.TicketRepository
	instances repository.InstanceRepository
	contacts  repository.ContactRepository
	gateway   *stubGateway
	monitor   *monitoring.Monitor
	publicDir string
	instance  *entity.Instance
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	ctx := context.Background()

	env := &testEnv{
		messages:  persistence.NewMemoryMessageRepository(),
		tickets:   persistence.NewMemoryTicketRepository(),
		instances: persistence.NewMemoryInstanceRepository(),
		contacts:  persistence.NewMemoryContactRepository(),
		gateway:   &stubGateway{},
		monitor:   monitoring.NewMonitor(logger),
		publicDir: t.TempDir(),
	}
	store, err := media.NewLocalStore(env.publicDir)
	require.NoError(t, err)
	resolver := media.URLResolver{BaseURL: "http://bridge.test"}

	bus := eventbus.NewInMemoryBus(logger, 64)
	t.Cleanup(func() { bus.Close() })
	notifier := eventbus.NewNotifier(bus)

	contactSvc := ticketing.NewContactService(env.contacts, logger)
	ticketSvc := ticketing.NewTicketService(env.tickets, logger)
	materializer := media.NewMaterializer(store, env.gateway, nil, env.monitor, logger)

	ingest := usecase.NewIngestMessageUseCase(env.messages, contactSvc, ticketSvc, materializer, store, resolver, notifier, env.monitor, logger)
	events := usecase.NewMessageEventsUseCase(env.messages, resolver, notifier, logger)
	router := usecase.NewWebhookRouter(env.instances, wuzapi.NewAdapter(logger), ingest, events, env.monitor, logger)
	dispatch := usecase.NewDispatchMessageUseCase(env.instances, env.contacts, ticketSvc, env.messages, env.gateway, store, resolver, nil, notifier, env.monitor, logger)
	sessions := usecase.NewSessionUseCase(env.instances, env.gateway, notifier, logger)

	srv := NewServer(Config{Host: "127.0.0.1", Port: 0, Mode: "test", PublicDir: env.publicDir}, Dependencies{
		Webhooks: router,
		Sessions: sessions,
		Dispatch: dispatch,
		Messages: env.messages,
		Resolver: resolver,
		Monitor:  env.monitor,
	}, logger)
	env.handler = srv.Handler()

	instance, err := entity.NewInstance("main", entity.TransportWuzapi, "http://gateway.test")
	require.NoError(t, err)
	require.NoError(t, env.instances.Create(ctx, instance))
	env.instance = instance
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) openTicket(t *testing.T) *entity.Ticket {
	t.Helper()
	ctx := context.Background()
	contact, err := entity.NewContact("5511999", "Ana", false)
	require.NoError(t, err)
	contact, err = e.contacts.FindOrCreate(ctx, contact)
	require.NoError(t, err)
	ticket := &entity.Ticket{ContactID: contact.ID, InstanceID: e.instance.ID, Status: entity.TicketOpen}
	require.NoError(t, e.tickets.Create(ctx, ticket))
	return ticket
}

func TestWebhookEndpoint(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"type":"Message","event":{"Info":{"ID":"ABC123","Chat":"5511999@s.whatsapp.net","Type":"text","Timestamp":"2024-01-01T00:00:00Z"},"Message":{"conversation":"hello"}}}`)

	rec := env.do(t, http.MethodPost, "/webhooks/wuzapi/1", payload, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	msg, err := env.messages.FindByID(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body())

	// 无法解析的负载同样返回 200
	rec = env.do(t, http.MethodPost, "/webhooks/wuzapi/1", []byte("garbage"), "application/json")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/webhooks/wuzapi/42", payload, "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/webhooks/wuzapi/abc", payload, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendTextEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.openTicket(t)

	rec := env.do(t, http.MethodPost, "/api/v1/tickets/1/messages", []byte(`{"body":"hi {{name}}"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Messages []usecase.MessageView `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi Ana", resp.Messages[0].Body)
	assert.True(t, resp.Messages[0].FromMe)
	assert.Equal(t, ticket.ID, resp.Messages[0].TicketID)
	require.Len(t, env.gateway.texts, 1)
	assert.Equal(t, env.gateway.texts[0].ID, resp.Messages[0].ID)
}

func TestSendEndpoint_GatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	env.openTicket(t)
	env.gateway.fail = assert.AnError

	rec := env.do(t, http.MethodPost, "/api/v1/tickets/1/messages", []byte(`{"body":"hi"}`), "application/json")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "GATEWAY_DISPATCH_FAILED")

	rec = env.do(t, http.MethodPost, "/api/v1/tickets/1/messages", []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMultipartEndpointServesFile(t *testing.T) {
	env := newTestEnv(t)
	env.openTicket(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("body", "see attached"))
	part, err := w.CreateFormFile("medias", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 report"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec := env.do(t, http.MethodPost, "/api/v1/tickets/1/messages", buf.Bytes(), w.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, env.gateway.media, 1)
	sent := env.gateway.media[0]
	assert.Equal(t, "see attached", sent.Caption)
	require.True(t, strings.HasPrefix(sent.URL, "http://bridge.test/public/"))

	entries, err := os.ReadDir(env.publicDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.Equal(t, ".pdf", filepath.Ext(name))

	rec = env.do(t, http.MethodGet, "/public/"+name, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4 report", rec.Body.String())
}

func TestInstanceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/instances/1/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view usecase.InstanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, entity.InstanceConnected, view.Status)

	rec = env.do(t, http.MethodGet, "/api/v1/instances/1/qr", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"qrcode":"QR"`)

	rec = env.do(t, http.MethodPost, "/api/v1/instances/7/connect", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(t, http.MethodPost, "/webhooks/wuzapi/1", []byte(`{"type":"ChatPresence"}`), "application/json")

	rec = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wabridge_webhooks_received_total 1")
	assert.Contains(t, rec.Body.String(), "wabridge_adaptation_skips_total 1")

	require.Eventually(t, func() bool {
		return env.monitor.GetStats()["requests_total"].(uint64) >= 3
	}, time.Second, 10*time.Millisecond)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/health", nil, "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 32)
}

func TestListMessagesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.openTicket(t)

	for _, body := range []string{"one", "two", "three"} {
		rec := env.do(t, http.MethodPost, "/api/v1/tickets/1/messages", []byte(`{"body":"`+body+`"}`), "application/json")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/tickets/1/messages?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Messages []usecase.MessageView `json:"messages"`
		HasMore  bool                  `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Messages, 2)
	assert.True(t, page.HasMore)

	rec = env.do(t, http.MethodGet, "/api/v1/tickets/1/messages?limit=2&offset=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Messages, 1)
	assert.False(t, page.HasMore)
}
