// Package images stores user-uploaded document images.
package images

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/tinoosan/magnetron/internal/data"
)

// MaxSize caps a single upload.
const MaxSize = 10 << 20

var allowed = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store writes images under dir on fs and returns their public URLs,
// prefix + generated name.
type Store struct {
	fs     afero.Fs
	dir    string
	prefix string
}

func NewStore(fs afero.Fs, dir, prefix string) *Store {
	if prefix == "" {
		prefix = "/uploads/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{fs: fs, dir: dir, prefix: prefix}
}

// Save sniffs the content type, rejects anything that is not an image and
// writes it under a random name.
func (s *Store) Save(r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", data.Invalid("empty image upload")
	}
	ext, ok := allowed[http.DetectContentType(head)]
	if !ok {
		return "", data.Invalid("unsupported image type %s", http.DetectContentType(head))
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", data.Persistence("create upload dir", err)
	}
	name := uuid.NewString() + ext
	f, err := s.fs.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", data.Persistence("create image", err)
	}
	written, err := io.Copy(f, io.MultiReader(strings.NewReader(string(head)), io.LimitReader(r, MaxSize-int64(n)+1)))
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(filepath.Join(s.dir, name))
		return "", data.Persistence("write image", err)
	}
	if written > MaxSize {
		_ = s.fs.Remove(filepath.Join(s.dir, name))
		return "", data.Invalid("image larger than %d bytes", MaxSize)
	}
	return s.prefix + name, nil
}

// Handler serves stored images; mount it under the store prefix.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(strings.TrimSuffix(s.prefix, "/"), http.FileServer(afero.NewHttpFs(afero.NewBasePathFs(s.fs, s.dir)).Dir("/")))
}
