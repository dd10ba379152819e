package storage

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStorage_PathFor(t *testing.T) {
	s := NewLocalStorage("/data/assets")

	tests := []struct {
		name    string
		url     string
		wantExt string
	}{
		{"jpg", "https://media.example.com/screenshots/a/b.jpg", ".jpg"},
		{"jpeg normalised", "https://media.example.com/x.JPEG", ".jpg"},
		{"webp", "https://media.example.com/x.webp?w=600", ".webp"},
		{"unknown defaults to jpg", "https://media.example.com/x", ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := s.PathFor("game-1", tt.url)
			if !strings.HasPrefix(p, filepath.Join("/data/assets", "game-1")) {
				t.Errorf("path %s not under owner dir", p)
			}
			if filepath.Ext(p) != tt.wantExt {
				t.Errorf("ext = %s, want %s", filepath.Ext(p), tt.wantExt)
			}
			if p != s.PathFor("game-1", tt.url) {
				t.Error("path is not deterministic")
			}
		})
	}

	if s.PathFor("g", "https://a/1.jpg") == s.PathFor("g", "https://a/2.jpg") {
		t.Error("different URLs map to the same path")
	}
}

func TestReadImageInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	img.Set(1, 1, color.White)
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	info, err := ReadImageInfo(path)
	if err != nil {
		t.Fatalf("ReadImageInfo: %v", err)
	}
	if info.Width != 64 || info.Height != 36 || info.Format != "png" || info.FileSize == 0 {
		t.Errorf("unexpected info: %+v", info)
	}

	if _, err := ReadImageInfo(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestS3Storage_ExistsAndURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/bucket/shots/10/ab/present.jpg" {
			w.Header().Set("Content-Length", "3")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ctx := context.Background()
	s, err := NewS3Storage(ctx, &S3Config{
		Type:      StorageTypeS3Compatible,
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "bucket",
		Region:    "us-east-1",
		PublicURL: "https://cdn.example.com/",
		Prefix:    "/shots/",
	})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Exists(ctx, "10/ab/present.jpg")
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v", ok, err)
	}
	ok, err = s.Exists(ctx, "10/ab/missing.jpg")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}

	if got := s.GetURL("10/ab/present.jpg"); got != "https://cdn.example.com/shots/10/ab/present.jpg" {
		t.Errorf("GetURL = %s", got)
	}
}
