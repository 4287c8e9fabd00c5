package media

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ngoclaw/ngoclaw/wabridge/internal/domain/service"
)

const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LocalStore is the public-serving media directory. It only ever creates new
// uniquely named files.
type LocalStore struct {
	dir string
	now func() time.Time
}

var _ service.FileStore = (*LocalStore)(nil)

// NewLocalStore 创建公共目录存储，目录不存在时自动创建
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("public dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create public dir: %w", err)
	}
	return &LocalStore{dir: dir, now: time.Now}, nil
}

// Dir 返回目录路径
func (s *LocalStore) Dir() string {
	return s.dir
}

// GenerateName builds "<base>-<unixms>-<rand5>.<ext>". The base comes from the
// original name with its extension and any path stripped.
func (s *LocalStore) GenerateName(original, ext string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "._-")
	if len(base) > 64 {
		base = base[:64]
	}
	if base == "" {
		base = "media"
	}

	name := fmt.Sprintf("%s-%d-%s", base, s.now().UnixMilli(), randomID(5))
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	ext = unsafeNameChars.ReplaceAllString(ext, "")
	if ext != "" {
		name += "." + ext
	}
	return name
}

// Write creates name exclusively and copies r into it. A failed write leaves
// no file behind.
func (s *LocalStore) Write(name string, r io.Reader) error {
	path := s.Path(name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// Path 返回文件的绝对路径；名称中的目录部分会被丢弃
func (s *LocalStore) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Remove 删除文件，不存在时不报错
func (s *LocalStore) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func randomID(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(out)
}

// URLResolver resolves stored names to "<base>/public/<name>".
type URLResolver struct {
	BaseURL string
}

var _ service.URLResolver = URLResolver{}

// Resolve passes absolute URLs through unchanged.
func (r URLResolver) Resolve(name string) string {
	if name == "" {
		return ""
	}
	if strings.Contains(name, "://") {
		return name
	}
	return strings.TrimRight(r.BaseURL, "/") + "/public/" + url.PathEscape(name)
}
