package valueobject

import "strings"

// MessageKind 消息种类（封闭集合）
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindVideo       MessageKind = "video"
	KindAudio       MessageKind = "audio"
	KindVoiceNote   MessageKind = "voice-note"
	KindDocument    MessageKind = "document"
	KindContactCard MessageKind = "contact-card"
	KindSticker     MessageKind = "sticker"
	KindLocation    MessageKind = "location"
	KindUnknown     MessageKind = "unknown"
)

// providerKinds maps the gateway's declared type (Info.Type, or Info.MediaType
// when Info.Type is "media") to a kind.
var providerKinds = map[string]MessageKind{
	"text":     KindText,
	"chat":     KindText,
	"image":    KindImage,
	"video":    KindVideo,
	"gif":      KindVideo,
	"audio":    KindAudio,
	"ptt":      KindVoiceNote,
	"document": KindDocument,
	"vcard":    KindContactCard,
	"contact":  KindContactCard,
	"sticker":  KindSticker,
	"location": KindLocation,
}

// KindFromProvider decodes a provider-declared type. Unmapped values yield
// KindUnknown; callers keep the raw string for passthrough.
func KindFromProvider(declared string) MessageKind {
	if k, ok := providerKinds[strings.ToLower(strings.TrimSpace(declared))]; ok {
		return k
	}
	return KindUnknown
}

// ParseKind parses a stored or API-supplied kind name.
func ParseKind(s string) MessageKind {
	k := MessageKind(strings.ToLower(strings.TrimSpace(s)))
	if k.Valid() {
		return k
	}
	return KindFromProvider(s)
}

// Valid 是否为已知种类
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindVoiceNote,
		KindDocument, KindContactCard, KindSticker, KindLocation, KindUnknown:
		return true
	}
	return false
}

// Supported reports whether the ingestion pipeline accepts this kind.
func (k MessageKind) Supported() bool {
	return k.Valid() && k != KindUnknown
}

// IsMedia 是否携带媒体文件
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindVoiceNote, KindDocument, KindSticker:
		return true
	}
	return false
}

// SendEndpoint returns the gateway send path suffix used for this kind
// (/chat/send/<endpoint>). Kinds without a media endpoint go as documents.
func (k MessageKind) SendEndpoint() string {
	switch k {
	case KindImage, KindSticker:
		return "image"
	case KindVideo:
		return "video"
	case KindAudio, KindVoiceNote:
		return "audio"
	case KindText, KindContactCard, KindLocation:
		return "text"
	}
	return "document"
}

// KindFromMime derives a kind from a MIME type.
func KindFromMime(mime string) MessageKind {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/webp"):
		return KindSticker
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case mime == "text/vcard" || mime == "text/x-vcard":
		return KindContactCard
	}
	return KindDocument
}

func (k MessageKind) String() string {
	return string(k)
}
