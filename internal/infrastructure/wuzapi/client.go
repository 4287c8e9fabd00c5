package wuzapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	apperrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

const (
	defaultVoiceMime = "audio/ogg; codecs=opus"
	waveformSamples  = 32
	maxResponseBody  = 256 << 20 // decoded videos come back inline
)

// Client is a Go-native HTTP client for the Wuzapi gateway REST API.
type Client struct {
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a gateway client. timeout bounds each whole request.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger.With(zap.String("component", "wuzapi-client")),
	}
}

// Compile-time interface checks
var (
	_ service.ProviderGateway = (*Client)(nil)
	_ service.SessionGateway  = (*Client)(nil)
	_ service.AdminGateway    = (*Client)(nil)
)

// ─── Outbound messages ───

// SendText implements service.ProviderGateway.
func (c *Client) SendText(ctx context.Context, ep service.Endpoint, req service.TextRequest) (*service.SendResult, error) {
	payload := map[string]any{
		"Phone": req.Phone,
		"Body":  req.Body,
	}
	if req.ID != "" {
		payload["Id"] = req.ID
	}
	if req.QuotedID != "" {
		payload["ContextInfo"] = map[string]any{"StanzaId": req.QuotedID, "Participant": req.Phone}
	}

	res, err := c.send(ctx, ep, "/chat/send/text", payload, req.ID)
	if err != nil {
		return nil, apperrors.NewGatewayDispatchError("send text failed", err)
	}
	c.logger.Info("Text message sent", zap.String("phone", req.Phone), zap.String("id", res.ProviderMessageID))
	return res, nil
}

// SendMedia implements service.ProviderGateway. The gateway fetches URL itself.
func (c *Client) SendMedia(ctx context.Context, ep service.Endpoint, req service.MediaRequest) (*service.SendResult, error) {
	endpoint := req.Kind.SendEndpoint()
	payload := map[string]any{"Phone": req.Phone}

	switch endpoint {
	case "image":
		payload["Image"] = req.URL
		payload["Caption"] = req.Caption
	case "video":
		payload["Video"] = req.URL
		payload["Caption"] = req.Caption
	case "audio":
		payload["Audio"] = req.URL
		payload["Caption"] = req.Caption
	case "document":
		name := req.FileName
		if name == "" {
			name = "document"
		}
		payload["Document"] = req.URL
		payload["FileName"] = name
		if req.Caption != "" {
			payload["Caption"] = req.Caption
		}
	default:
		return nil, apperrors.NewGatewayDispatchError("no media endpoint for kind "+req.Kind.String(), nil)
	}
	if req.MimeType != "" && endpoint == "document" {
		payload["MimeType"] = req.MimeType
	}
	if req.ID != "" {
		payload["Id"] = req.ID
	}

	res, err := c.send(ctx, ep, "/chat/send/"+endpoint, payload, req.ID)
	if err != nil {
		return nil, apperrors.NewGatewayDispatchError("send "+endpoint+" failed", err)
	}
	c.logger.Info("Media message sent",
		zap.String("phone", req.Phone),
		zap.String("kind", req.Kind.String()),
		zap.String("id", res.ProviderMessageID),
	)
	return res, nil
}

// SendVoiceNote implements service.ProviderGateway.
func (c *Client) SendVoiceNote(ctx context.Context, ep service.Endpoint, req service.VoiceNoteRequest) (*service.SendResult, error) {
	mime := req.MimeType
	if mime == "" {
		mime = defaultVoiceMime
	}
	payload := map[string]any{
		"Phone":    req.Phone,
		"Audio":    "data:audio/ogg;base64," + base64.StdEncoding.EncodeToString(req.Audio),
		"PTT":      true,
		"MimeType": mime,
		"Seconds":  req.Seconds,
		"Waveform": waveform(),
	}
	if req.ID != "" {
		payload["Id"] = req.ID
	}

	res, err := c.send(ctx, ep, "/chat/send/audio", payload, req.ID)
	if err != nil {
		return nil, apperrors.NewGatewayDispatchError("send voice note failed", err)
	}
	c.logger.Info("Voice note sent",
		zap.String("phone", req.Phone),
		zap.Int("seconds", req.Seconds),
		zap.String("id", res.ProviderMessageID),
	)
	return res, nil
}

// waveform is a placeholder amplitude envelope; the gateway requires one.
func waveform() []int {
	w := make([]int, waveformSamples)
	for i := range w {
		w[i] = rand.IntN(25)
	}
	return w
}

func (c *Client) send(ctx context.Context, ep service.Endpoint, path string, payload any, fallbackID string) (*service.SendResult, error) {
	resp, err := c.do(ctx, http.MethodPost, ep.BaseURL+path, payload, "token", ep.Token)
	if err != nil {
		return nil, err
	}
	var data sendResponseData
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}
	id := data.ID
	if id == "" {
		id = fallbackID
	}
	return &service.SendResult{ProviderMessageID: id}, nil
}

// ─── Media ───

// DownloadRemoteVideo asks the gateway to fetch and decrypt a remote video.
// The reply carries the file as a base64 data URI.
func (c *Client) DownloadRemoteVideo(ctx context.Context, ep service.Endpoint, ref *entity.RemoteMedia) ([]byte, error) {
	if ref == nil || ref.URL == "" {
		return nil, apperrors.NewMediaDownloadError("remote reference has no URL", nil)
	}
	payload := map[string]any{
		"Url":           ref.URL,
		"DirectPath":    ref.DirectPath,
		"MediaKey":      ref.MediaKey,
		"Mimetype":      ref.Mimetype,
		"FileEncSHA256": ref.FileEncSHA256,
		"FileSHA256":    ref.FileSHA256,
		"FileLength":    ref.FileLength,
	}

	resp, err := c.do(ctx, http.MethodPost, ep.BaseURL+"/chat/downloadvideo", payload, "token", ep.Token)
	if err != nil {
		return nil, apperrors.NewMediaDownloadError("video download failed", err)
	}

	var data downloadResponseData
	if len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, apperrors.NewMediaDownloadError("decode download response", err)
		}
	}
	encoded := data.Data
	if data.Inner != nil && data.Inner.Data != "" {
		encoded = data.Inner.Data
	}
	if encoded == "" && len(resp.RootData) > 0 {
		var root string
		if err := json.Unmarshal(resp.RootData, &root); err == nil {
			encoded = root
		}
	}
	encoded = stripDataURI(encoded)
	if encoded == "" {
		return nil, apperrors.NewMediaDownloadError("gateway returned no video payload", nil)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.NewMediaDownloadError("decode video payload", err)
	}
	c.logger.Debug("Remote video downloaded", zap.Int("bytes", len(raw)))
	return raw, nil
}

// ─── Session ───

// Connect subscribes the session to Message events.
func (c *Client) Connect(ctx context.Context, ep service.Endpoint) error {
	payload := map[string]any{
		"Subscribe": []string{EventMessage, EventReadReceipt},
		"Immediate": false,
	}
	if _, err := c.do(ctx, http.MethodPost, ep.BaseURL+"/session/connect", payload, "token", ep.Token); err != nil {
		return apperrors.NewServiceUnavailableError("session connect failed", err)
	}
	return nil
}

// Disconnect closes the session. An error reply is logged and tolerated: the
// gateway reports failure when the session is already down.
func (c *Client) Disconnect(ctx context.Context, ep service.Endpoint) error {
	_, err := c.do(ctx, http.MethodPost, ep.BaseURL+"/session/disconnect", nil, "token", ep.Token)
	if err != nil {
		if isTransportError(err) {
			return apperrors.NewServiceUnavailableError("session disconnect failed", err)
		}
		c.logger.Info("Gateway reported disconnect failure, treating as disconnected", zap.Error(err))
	}
	return nil
}

// QRCode 获取登录二维码
func (c *Client) QRCode(ctx context.Context, ep service.Endpoint) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, ep.BaseURL+"/session/qr", nil, "token", ep.Token)
	if err != nil {
		return "", apperrors.NewServiceUnavailableError("qr fetch failed", err)
	}
	var data qrResponseData
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.QRCode == "" {
		return "", apperrors.NewServiceUnavailableError("gateway returned no QR code", err)
	}
	return data.QRCode, nil
}

// Status 查询会话状态
func (c *Client) Status(ctx context.Context, ep service.Endpoint) (*service.SessionState, error) {
	resp, err := c.do(ctx, http.MethodGet, ep.BaseURL+"/session/status", nil, "token", ep.Token)
	if err != nil {
		return nil, apperrors.NewServiceUnavailableError("status fetch failed", err)
	}
	var data statusResponseData
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, apperrors.NewServiceUnavailableError("decode status response", err)
		}
	}
	return &service.SessionState{
		Connected: data.Connected,
		LoggedIn:  data.LoggedIn,
		QRCode:    data.QRCode,
		JID:       data.JID,
	}, nil
}

// ─── Admin ───

// CreateUser provisions a gateway user with its webhook.
func (c *Client) CreateUser(ctx context.Context, baseURL, adminToken string, req service.ProvisionRequest) (*service.ProvisionResult, error) {
	events := req.Events
	if len(events) == 0 {
		events = []string{EventMessage, EventReadReceipt}
	}
	payload := map[string]any{
		"name":    req.Name,
		"token":   req.Token,
		"webhook": req.WebhookURL,
		"events":  events,
	}
	resp, err := c.do(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/admin/users", payload, "Authorization", adminToken)
	if err != nil {
		return nil, apperrors.NewServiceUnavailableError("create gateway user failed", err)
	}
	var data adminUserData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, apperrors.NewServiceUnavailableError("decode create user response", err)
	}
	token := data.Token
	if token == "" {
		token = req.Token
	}
	return &service.ProvisionResult{ID: strings.Trim(string(data.ID), `"`), Token: token}, nil
}

// DeleteUser removes a gateway user.
func (c *Client) DeleteUser(ctx context.Context, baseURL, adminToken, userID string) error {
	url := strings.TrimRight(baseURL, "/") + "/admin/users/" + userID
	if _, err := c.do(ctx, http.MethodDelete, url, nil, "Authorization", adminToken); err != nil {
		return apperrors.NewServiceUnavailableError("delete gateway user failed", err)
	}
	return nil
}

// ─── Transport ───

// transportError marks failures that never reached a gateway reply.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransportError(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// do performs one JSON request and enforces the success envelope.
func (c *Client) do(ctx context.Context, method, url string, payload any, authHeader, authValue string) (*gatewayResponse, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if authValue != "" {
		httpReq.Header.Set(authHeader, authValue)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read response: %w", err)}
	}

	var out gatewayResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("gateway %s %s: HTTP %d: %s", method, url, resp.StatusCode, truncate(string(respBody), 200))
	}
	// 顶层 Data 的回复不一定带 success
	ok := out.Success || len(out.RootData) > 0
	if resp.StatusCode >= 300 || !ok {
		msg := out.Error
		if msg == "" {
			msg = truncate(string(respBody), 200)
		}
		return nil, fmt.Errorf("gateway %s %s: HTTP %d: %s", method, url, resp.StatusCode, msg)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
