package images

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/tinoosan/magnetron/internal/data"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestSaveAndServe(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewStore(fs, "/var/uploads", "/uploads")
	img := pngBytes(t)

	u, err := s.Save(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(u, "/uploads/") || !strings.HasSuffix(u, ".png") {
		t.Fatalf("unexpected url %q", u)
	}
	stored, err := afero.ReadFile(fs, "/var/uploads/"+strings.TrimPrefix(u, "/uploads/"))
	if err != nil || !bytes.Equal(stored, img) {
		t.Fatalf("stored bytes differ: %v", err)
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, u, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("serve status %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	if !bytes.Equal(body, img) {
		t.Fatal("served bytes differ")
	}
}

func TestSaveRejects(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/u", "")
	tests := map[string]io.Reader{
		"empty": bytes.NewReader(nil),
		"text":  strings.NewReader("hello, not an image"),
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Save(r); !errors.Is(err, data.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
