package bundle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDownloaderLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cheetah/latest", r.URL.Path)
		w.Write([]byte("2024.01.1\n"))
	}))
	defer srv.Close()

	d := NewHTTPDownloader(srv.URL)
	version, err := d.Latest(context.Background(), "cheetah")
	require.NoError(t, err)
	assert.Equal(t, "2024.01.1", version)
}

func TestHTTPDownloaderDownload(t *testing.T) {
	const archiveBody = "fake archive bytes"
	const sidecarBody = "deadbeef  archive.zip"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cheetah/2024.01.1/archive.zip":
			w.Write([]byte(archiveBody))
		case "/cheetah/2024.01.1/archive.zip.sha256":
			w.Write([]byte(sidecarBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	archiveDest := filepath.Join(dir, "archive.zip")
	sidecarDest := filepath.Join(dir, "archive.zip.sha256")

	d := NewHTTPDownloader(srv.URL)
	var lastPct int
	err := d.Download(context.Background(), "cheetah", "2024.01.1", archiveDest, sidecarDest, func(pct int) { lastPct = pct })
	require.NoError(t, err)

	gotArchive, err := os.ReadFile(archiveDest)
	require.NoError(t, err)
	assert.Equal(t, archiveBody, string(gotArchive))

	gotSidecar, err := os.ReadFile(sidecarDest)
	require.NoError(t, err)
	assert.Equal(t, sidecarBody, string(gotSidecar))
	assert.GreaterOrEqual(t, lastPct, 0)
}

func TestHTTPDownloaderDownloadPropagatesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTPDownloader(srv.URL)
	d.client.RetryMax = 0
	err := d.Download(context.Background(), "cheetah", "missing", filepath.Join(dir, "a.zip"), filepath.Join(dir, "a.zip.sha256"), nil)
	assert.Error(t, err)
}
