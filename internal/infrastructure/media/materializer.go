package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/valueobject"
	apperrors "github.com/ngoclaw/ngoclaw/wabridge/pkg/errors"
)

// VideoDownloader is the slice of the gateway the materializer needs.
type VideoDownloader interface {
	DownloadRemoteVideo(ctx context.Context, ep service.Endpoint, ref *entity.RemoteMedia) ([]byte, error)
}

// Materializer turns inbound media payloads into files in the public store.
//
// Policy: a remote video goes through the gateway decode endpoint and is
// stored as mp4. Inline payloads are decoded and stored; ogg audio and flash
// video are then transcoded to mp4, keeping the original when the transcoder
// fails.
type Materializer struct {
	store      service.FileStore
	downloader VideoDownloader
	transcoder service.Transcoder
	observer   service.PipelineObserver
	logger     *zap.Logger
}

var _ service.MediaMaterializer = (*Materializer)(nil)

// NewMaterializer 创建媒体落地器
func NewMaterializer(
	store service.FileStore,
	downloader VideoDownloader,
	transcoder service.Transcoder,
	observer service.PipelineObserver,
	logger *zap.Logger,
) *Materializer {
	if observer == nil {
		observer = service.NoOpObserver{}
	}
	return &Materializer{
		store:      store,
		downloader: downloader,
		transcoder: transcoder,
		observer:   observer,
		logger:     logger.With(zap.String("component", "media-materializer")),
	}
}

// Materialize implements service.MediaMaterializer.
func (m *Materializer) Materialize(ctx context.Context, ep service.Endpoint, media *entity.MediaDescriptor) (*service.MaterializedMedia, error) {
	if err := media.Validate(); err != nil {
		return nil, apperrors.NewMediaDownloadError("invalid media descriptor", err)
	}
	if media.Remote != nil {
		return m.materializeRemoteVideo(ctx, ep, media)
	}
	return m.materializeInline(ctx, media)
}

func (m *Materializer) materializeRemoteVideo(ctx context.Context, ep service.Endpoint, media *entity.MediaDescriptor) (*service.MaterializedMedia, error) {
	raw, err := m.downloader.DownloadRemoteVideo(ctx, ep, media.Remote)
	if err != nil {
		if apperrors.IsMediaDownload(err) {
			return nil, err
		}
		return nil, apperrors.NewMediaDownloadError("remote video download failed", err)
	}
	if len(raw) == 0 {
		return nil, apperrors.NewMediaDownloadError("gateway returned an empty video", nil)
	}

	name := m.store.GenerateName(media.OriginalName(), "mp4")
	if err := m.store.Write(name, bytes.NewReader(raw)); err != nil {
		return nil, apperrors.NewMediaDownloadError("store video", err)
	}
	m.logger.Info("Remote video stored", zap.String("file", name), zap.Int("bytes", len(raw)))
	return &service.MaterializedMedia{StoredFileName: name, Kind: valueobject.KindVideo, MimeType: "video/mp4"}, nil
}

func (m *Materializer) materializeInline(ctx context.Context, media *entity.MediaDescriptor) (*service.MaterializedMedia, error) {
	raw, err := decodeBase64(media.Inline.Data)
	if err != nil {
		return nil, apperrors.NewMediaDownloadError("decode inline payload", err)
	}
	if len(raw) == 0 {
		return nil, apperrors.NewMediaDownloadError("inline payload is empty", nil)
	}

	mime := baseMime(media.MimeType())
	ext := media.Extension()
	if mime == "" || ext == "" {
		detected := mimetype.Detect(raw)
		if mime == "" {
			mime = baseMime(detected.String())
		}
		if ext == "" {
			ext = strings.TrimPrefix(detected.Extension(), ".")
		}
	}

	original := media.OriginalName()
	name := m.store.GenerateName(original, ext)
	if err := m.store.Write(name, bytes.NewReader(raw)); err != nil {
		return nil, apperrors.NewMediaDownloadError("store inline media", err)
	}

	result := &service.MaterializedMedia{StoredFileName: name, Kind: valueobject.KindFromMime(mime), MimeType: mime}

	switch {
	case isOggAudio(mime, ext):
		m.convert(ctx, original, result, service.ProfileAACAudio, "audio/mp4")
	case isFlashVideo(mime, ext):
		m.convert(ctx, original, result, service.ProfileH264Video, "video/mp4")
	}

	m.logger.Info("Inline media stored",
		zap.String("file", result.StoredFileName),
		zap.String("mime", result.MimeType),
		zap.Int("bytes", len(raw)),
	)
	return result, nil
}

// convert transcodes result in place. On failure the original file stays and
// result is left untouched.
func (m *Materializer) convert(ctx context.Context, original string, result *service.MaterializedMedia, profile service.TranscodeProfile, mime string) {
	if m.transcoder == nil {
		return
	}
	out := m.store.GenerateName(original, "mp4")
	err := m.transcoder.Transcode(ctx, m.store.Path(result.StoredFileName), m.store.Path(out), profile)
	if err != nil {
		m.observer.TranscodeFellBack()
		m.logger.Warn("Transcode failed, keeping original file",
			zap.String("file", result.StoredFileName),
			zap.String("profile", string(profile)),
			zap.Error(err),
		)
		_ = m.store.Remove(out)
		return
	}
	if err := m.store.Remove(result.StoredFileName); err != nil {
		m.logger.Warn("Failed to remove transcoded source", zap.String("file", result.StoredFileName), zap.Error(err))
	}
	result.StoredFileName = out
	result.MimeType = mime
	result.Kind = valueobject.KindFromMime(mime)
}

// isOggAudio reports ogg/opus audio. Ogg video (video/ogg) is left alone.
func isOggAudio(mime, ext string) bool {
	if strings.HasPrefix(mime, "video/") {
		return false
	}
	if strings.HasPrefix(mime, "audio/") && (strings.Contains(mime, "ogg") || strings.Contains(mime, "opus")) {
		return true
	}
	return ext == "ogg" || ext == "oga" || ext == "opus"
}

func isFlashVideo(mime, ext string) bool {
	return strings.Contains(mime, "f4v") || strings.Contains(mime, "x-flv") || ext == "f4v" || ext == "flv"
}

func baseMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	if alt, altErr := base64.RawStdEncoding.DecodeString(s); altErr == nil {
		return alt, nil
	}
	return nil, err
}
