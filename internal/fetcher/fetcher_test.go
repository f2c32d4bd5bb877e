package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwextensions/sf-pools/internal/domain"
)

func pdfServer(t *testing.T, body *atomic.Value, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		content := body.Load().(string)
		etag := `"` + Hash([]byte(content))[:12] + `"`
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHashIsStable(t *testing.T) {
	assert.Equal(t, Hash([]byte("abc")), Hash([]byte("abc")))
	assert.NotEqual(t, Hash([]byte("abc")), Hash([]byte("abd")))
	assert.Len(t, Hash(nil), 64)
}

func TestDownloadSkipsUnchangedContent(t *testing.T) {
	var body atomic.Value
	body.Store("%PDF-1.4 schedule v1")
	var hits atomic.Int32
	srv := pdfServer(t, &body, &hits)

	dir := t.TempDir()
	d := NewDownloader(NewClient(0, 5*time.Second), dir)
	ctx := context.Background()

	first, err := d.Download(ctx, "balboa", srv.URL+"/balboa.pdf", nil)
	require.NoError(t, err)
	assert.False(t, first.Unchanged)
	assert.Equal(t, "balboa.pdf", first.Entry.Filename)
	assert.Equal(t, Hash([]byte("%PDF-1.4 schedule v1")), first.Entry.ContentHash)
	saved, err := os.ReadFile(filepath.Join(dir, "balboa.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 schedule v1", string(saved))

	second, err := d.Download(ctx, "balboa", srv.URL+"/balboa.pdf", &first.Entry)
	require.NoError(t, err)
	assert.True(t, second.Unchanged)
	assert.Equal(t, first.Entry, second.Entry)

	body.Store("%PDF-1.4 schedule v2")
	third, err := d.Download(ctx, "balboa", srv.URL+"/balboa.pdf", &second.Entry)
	require.NoError(t, err)
	assert.False(t, third.Unchanged)
	assert.NotEqual(t, first.Entry.ContentHash, third.Entry.ContentHash)
	assert.Equal(t, int32(3), hits.Load())
}

func TestDownloadSameHashWithoutValidatorsIsUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF same"))
	}))
	defer srv.Close()

	d := NewDownloader(NewClient(0, 5*time.Second), t.TempDir())
	first, err := d.Download(context.Background(), "sava", srv.URL, nil)
	require.NoError(t, err)

	second, err := d.Download(context.Background(), "sava", srv.URL, &first.Entry)
	require.NoError(t, err)
	assert.True(t, second.Unchanged)
	assert.Equal(t, first.Entry.LastDownloaded, second.Entry.LastDownloaded)
}

func TestDownloadFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			return
		}
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(NewClient(0, 5*time.Second), t.TempDir())

	_, err := d.Download(context.Background(), "mlk", srv.URL+"/missing.pdf", nil)
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = d.Download(context.Background(), "mlk", srv.URL+"/empty", nil)
	assert.ErrorContains(t, err, "empty document")

	_, err = d.Download(context.Background(), "mlk", "ftp://example.com/x.pdf", nil)
	assert.ErrorContains(t, err, "unsupported scheme")
}

func TestDownloadRejectsOversizedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 11)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewClient(0, 5*time.Second)
	c.maxBody = 10
	d := NewDownloader(c, dir)

	_, err := d.Download(context.Background(), "mlk", srv.URL+"/big.pdf", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.NoFileExists(t, filepath.Join(dir, "mlk.pdf"), "a truncated document is never saved")

	c.maxBody = 11
	res, err := d.Download(context.Background(), "mlk", srv.URL+"/big.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte(strings.Repeat("x", 11))), res.Entry.ContentHash)
}

func TestClientSpacesRequestsToSameHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(50*time.Millisecond, 5*time.Second)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	entry := domain.ManifestEntry{
		DocumentURL:    "https://example.com/balboa.pdf",
		ContentHash:    Hash([]byte("x")),
		Filename:       "balboa.pdf",
		LastDownloaded: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	m.Set("balboa", entry)
	require.NoError(t, m.Save())

	again, err := LoadManifest(path)
	require.NoError(t, err)
	got, ok := again.Get("balboa")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, err = LoadManifest(path)
	assert.ErrorContains(t, err, "parse manifest")
}
