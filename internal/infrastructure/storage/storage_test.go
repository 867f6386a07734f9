package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/config"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "visualizations/u1/j1/i1.png", ObjectPath("/visualizations/", "u1", "j1", "i1", "image/png"))
	assert.Equal(t, "u1/j1/i1.jpg", ObjectPath("", "u1", "j1", "i1", "image/jpeg; charset=binary"))
	assert.Equal(t, "webp", Extension("image/webp"))
	assert.Equal(t, "png", Extension("application/octet-stream"))
}

func TestDescribe(t *testing.T) {
	ct, w, h := Describe(pngBytes(t, 64, 32), "image/jpeg")
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, 64, w)
	assert.Equal(t, 32, h)

	ct, w, h = Describe([]byte("not an image"), "image/webp")
	assert.Equal(t, "image/webp", ct)
	assert.Zero(t, w)
	assert.Zero(t, h)

	ct, _, _ = Describe(nil, "")
	assert.Equal(t, "image/png", ct)
}

func TestFilesystemStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFilesystemStoreFs(fs, "/data/images", "http://localhost:8080/static/images/")
	require.NoError(t, err)
	ctx := context.Background()

	data := pngBytes(t, 8, 8)
	obj, err := store.Put(ctx, "viz/u1/j1/i1.png", data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/static/images/viz/u1/j1/i1.png", obj.URL)
	assert.EqualValues(t, len(data), obj.Size)

	stored, err := afero.ReadFile(fs, "/data/images/viz/u1/j1/i1.png")
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	require.NoError(t, store.Delete(ctx, "viz/u1/j1/i1.png"))
	exists, err := afero.Exists(fs, "/data/images/viz/u1/j1/i1.png")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, store.Delete(ctx, "viz/u1/j1/missing.png"))

	_, err = store.Put(ctx, "../escape.png", data, "image/png")
	assert.Error(t, err)
}

func TestFetcher(t *testing.T) {
	data := pngBytes(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		case "/big.png":
			_, _ = w.Write(bytes.Repeat([]byte{1}, 2048))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(0, 1024)
	ctx := context.Background()

	got, ct, err := f.Fetch(ctx, srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/png", ct)

	_, _, err = f.Fetch(ctx, srv.URL+"/big.png")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = f.Fetch(ctx, srv.URL+"/missing.png")
	assert.ErrorContains(t, err, "status 404")
}

func TestSupabaseStore(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`{"Key":"images/viz/u1/j1/i1.png"}`))
	}))
	defer srv.Close()

	store, err := NewSupabaseStore(config.SupabaseStorageConfig{URL: srv.URL + "/", ServiceKey: "key", Bucket: "images"})
	require.NoError(t, err)

	obj, err := store.Put(context.Background(), "viz/u1/j1/i1.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/images/viz/u1/j1/i1.png", obj.URL)

	require.NoError(t, store.Delete(context.Background(), "viz/u1/j1/i1.png"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 2)
	assert.Equal(t, "POST /storage/v1/object/images/viz/u1/j1/i1.png", requests[0])
	assert.Equal(t, "DELETE /storage/v1/object/images", requests[1])
}

func TestNew(t *testing.T) {
	_, err := New(config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)

	_, err = New(config.StorageConfig{Backend: "supabase"})
	assert.Error(t, err)

	store, err := New(config.StorageConfig{Backend: "s3", S3: config.S3StorageConfig{Endpoint: "localhost:9000", Bucket: "viz"}})
	require.NoError(t, err)
	s3, ok := store.(*S3Store)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9000/viz", s3.publicBaseURL)

	store, err = New(config.StorageConfig{Filesystem: config.FilesystemStorageConfig{Root: t.TempDir(), PublicBaseURL: "http://x"}})
	require.NoError(t, err)
	assert.IsType(t, &FilesystemStore{}, store)
}
