package wuzapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

type recordedRequest struct {
	Method string
	Path   string
	Token  string
	Auth   string
	Body   map[string]any
}

// fakeGateway records requests and replies with a canned body per path.
type fakeGateway struct {
	mu       sync.Mutex
	requests []recordedRequest
	replies  map[string]string
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if len(raw) > 0 {
			assert.NoError(t, json.Unmarshal(raw, &body))
		}
		g.mu.Lock()
		g.requests = append(g.requests, recordedRequest{
			Method: r.Method, Path: r.URL.Path,
			Token: r.Header.Get("token"), Auth: r.Header.Get("Authorization"),
			Body: body,
		})
		reply, ok := g.replies[r.URL.Path]
		g.mu.Unlock()
		if !ok {
			reply = `{"code":200,"success":true,"data":{}}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	})
}

func (g *fakeGateway) last() recordedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func newGateway(t *testing.T, replies map[string]string) (*fakeGateway, service.Endpoint, *Client) {
	g := &fakeGateway{replies: replies}
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)
	return g, service.Endpoint{BaseURL: srv.URL, Token: "tok"}, NewClient(5*time.Second, zap.NewNop())
}

func TestClient_SendTextCarriesCorrelationID(t *testing.T) {
	g, ep, c := newGateway(t, map[string]string{
		"/chat/send/text": `{"code":200,"success":true,"data":{"Details":"Sent","Id":"corr-1"}}`,
	})

	res, err := c.SendText(context.Background(), ep, service.TextRequest{Phone: "5511999", Body: "hi", ID: "corr-1"})
	require.NoError(t, err)
	assert.Equal(t, "corr-1", res.ProviderMessageID)

	req := g.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "tok", req.Token)
	assert.Equal(t, "5511999", req.Body["Phone"])
	assert.Equal(t, "hi", req.Body["Body"])
	assert.Equal(t, "corr-1", req.Body["Id"])
}

func TestClient_SendFailureIsDispatchError(t *testing.T) {
	_, ep, c := newGateway(t, map[string]string{
		"/chat/send/text": `{"code":500,"success":false,"error":"not logged in"}`,
	})

	_, err := c.SendText(context.Background(), ep, service.TextRequest{Phone: "1", Body: "x", ID: "a"})
	require.Error(t, err)
	assert.True(t, apperrors.IsGatewayDispatch(err))
	assert.Contains(t, err.Error(), "not logged in")
}

func TestClient_SendMediaEndpoints(t *testing.T) {
	g, ep, c := newGateway(t, nil)
	ctx := context.Background()

	_, err := c.SendMedia(ctx, ep, service.MediaRequest{Phone: "1", URL: "http://h/public/a.jpg", Caption: "c", Kind: valueobject.KindImage, ID: "i1"})
	require.NoError(t, err)
	req := g.last()
	assert.Equal(t, "/chat/send/image", req.Path)
	assert.Equal(t, "http://h/public/a.jpg", req.Body["Image"])
	assert.Equal(t, "c", req.Body["Caption"])

	_, err = c.SendMedia(ctx, ep, service.MediaRequest{Phone: "1", URL: "http://h/public/a.pdf", Kind: valueobject.KindDocument, ID: "d1"})
	require.NoError(t, err)
	req = g.last()
	assert.Equal(t, "/chat/send/document", req.Path)
	assert.Equal(t, "document", req.Body["FileName"])
	assert.Equal(t, "d1", req.Body["Id"])
}

func TestClient_SendVoiceNote(t *testing.T) {
	g, ep, c := newGateway(t, nil)

	_, err := c.SendVoiceNote(context.Background(), ep, service.VoiceNoteRequest{Phone: "1", Audio: []byte("OggS"), Seconds: 3, ID: "v1"})
	require.NoError(t, err)

	req := g.last()
	assert.Equal(t, "/chat/send/audio", req.Path)
	assert.Equal(t, true, req.Body["PTT"])
	assert.Equal(t, "audio/ogg; codecs=opus", req.Body["MimeType"])
	assert.Equal(t, float64(3), req.Body["Seconds"])
	assert.True(t, strings.HasPrefix(req.Body["Audio"].(string), "data:audio/ogg;base64,"))
	assert.Len(t, req.Body["Waveform"], waveformSamples)
}

func TestClient_DownloadRemoteVideo(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("mp4-bytes"))
	for name, reply := range map[string]string{
		"flat":   `{"success":true,"data":{"Data":"data:video/mp4;base64,` + payload + `"}}`,
		"nested": `{"success":true,"data":{"data":{"Data":"data:video/mp4;base64,` + payload + `"}}}`,
		"root":   `{"Data":"data:video/mp4;base64,` + payload + `"}`,
		"both":   `{"success":true,"data":{},"Data":"` + payload + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			g, ep, c := newGateway(t, map[string]string{"/chat/downloadvideo": reply})
			got, err := c.DownloadRemoteVideo(context.Background(), ep, &entity.RemoteMedia{URL: "https://mmg/v", DirectPath: "/d", FileLength: 9})
			require.NoError(t, err)
			assert.Equal(t, []byte("mp4-bytes"), got)
			assert.Equal(t, "https://mmg/v", g.last().Body["Url"])
		})
	}
}

func TestClient_DownloadEmptyPayload(t *testing.T) {
	for name, reply := range map[string]string{
		"empty data": `{"success":true,"data":{}}`,
		"empty root": `{"success":true,"Data":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, ep, c := newGateway(t, map[string]string{"/chat/downloadvideo": reply})
			_, err := c.DownloadRemoteVideo(context.Background(), ep, &entity.RemoteMedia{URL: "https://mmg/v"})
			require.Error(t, err)
			assert.True(t, apperrors.IsMediaDownload(err))
		})
	}
}

func TestClient_SessionAndAdmin(t *testing.T) {
	g, ep, c := newGateway(t, map[string]string{
		"/session/qr":     `{"success":true,"data":{"QRCode":"data:image/png;base64,QR"}}`,
		"/session/status": `{"success":true,"data":{"connected":true,"loggedIn":false,"jid":""}}`,
		"/admin/users":    `{"success":true,"data":{"id":"u-9","token":"t-9"}}`,
	})
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, ep))
	assert.Equal(t, "/session/connect", g.last().Path)

	qr, err := c.QRCode(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QR", qr)

	st, err := c.Status(ctx, ep)
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.False(t, st.LoggedIn)

	res, err := c.CreateUser(ctx, ep.BaseURL, "admin", service.ProvisionRequest{Name: "inst", Token: "t-9", WebhookURL: "http://me/webhooks/wuzapi/1"})
	require.NoError(t, err)
	assert.Equal(t, "u-9", res.ID)
	req := g.last()
	assert.Equal(t, "admin", req.Auth)
	assert.Equal(t, "http://me/webhooks/wuzapi/1", req.Body["webhook"])

	require.NoError(t, c.DeleteUser(ctx, ep.BaseURL, "admin", "u-9"))
	assert.Equal(t, http.MethodDelete, g.last().Method)
	assert.Equal(t, "/admin/users/u-9", g.last().Path)
}

func TestClient_DisconnectToleratesErrorReply(t *testing.T) {
	_, ep, c := newGateway(t, map[string]string{
		"/session/disconnect": `{"success":false,"error":"no session"}`,
	})
	assert.NoError(t, c.Disconnect(context.Background(), ep))
}
