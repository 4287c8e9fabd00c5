package entity

import (
	"path/filepath"
	"strings"
)

// InlineMedia 内联媒体（base64 编码的完整内容）
type InlineMedia struct {
	Data     string
	FileName string
	MimeType string
}

// RemoteMedia is a provider pointer to encrypted media. The gateway's decode
// endpoint resolves it server-side.
type RemoteMedia struct {
	URL           string
	DirectPath    string
	MediaKey      string
	Mimetype      string
	FileEncSHA256 string
	FileSHA256    string
	FileLength    int64
	FileName      string
}

// MediaDescriptor carries exactly one of Inline or Remote.
type MediaDescriptor struct {
	Inline *InlineMedia
	Remote *RemoteMedia
}

// Validate enforces the inline XOR remote invariant.
func (d *MediaDescriptor) Validate() error {
	if d == nil {
		return ErrInvalidMediaDescriptor
	}
	hasInline := d.Inline != nil && d.Inline.Data != ""
	hasRemote := d.Remote != nil && d.Remote.URL != ""
	if hasInline == hasRemote {
		return ErrInvalidMediaDescriptor
	}
	return nil
}

// MimeType 返回声明的 MIME 类型
func (d *MediaDescriptor) MimeType() string {
	switch {
	case d == nil:
		return ""
	case d.Inline != nil:
		return d.Inline.MimeType
	case d.Remote != nil:
		return d.Remote.Mimetype
	}
	return ""
}

// OriginalName returns the provider-supplied file name, if any.
func (d *MediaDescriptor) OriginalName() string {
	switch {
	case d == nil:
		return ""
	case d.Inline != nil:
		return d.Inline.FileName
	case d.Remote != nil:
		return d.Remote.FileName
	}
	return ""
}

// Extension derives the file extension (without dot) from the file name,
// falling back to the MIME subtype.
func (d *MediaDescriptor) Extension() string {
	if ext := strings.TrimPrefix(filepath.Ext(d.OriginalName()), "."); ext != "" {
		return strings.ToLower(ext)
	}
	mime := d.MimeType()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if i := strings.IndexByte(mime, '/'); i >= 0 {
		return strings.ToLower(strings.TrimSpace(mime[i+1:]))
	}
	return ""
}
