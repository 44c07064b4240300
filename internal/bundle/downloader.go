package bundle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPDownloader fetches bundle archives and their digest sidecars from a
// manifest-style distribution server: BaseURL/<codename>/latest for the
// version string, BaseURL/<codename>/<version>/archive.zip[.sha256] for the
// artifacts themselves.
type HTTPDownloader struct {
	BaseURL string
	client  *retryablehttp.Client
}

// NewHTTPDownloader builds a Downloader against baseURL, retrying transient
// network failures with the client's default exponential backoff.
func NewHTTPDownloader(baseURL string) *HTTPDownloader {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 10 * time.Minute
	client.Logger = nil
	return &HTTPDownloader{BaseURL: baseURL, client: client}
}

func (d *HTTPDownloader) Latest(ctx context.Context, codename string) (string, error) {
	u, err := url.JoinPath(d.BaseURL, codename, "latest")
	if err != nil {
		return "", err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bundle: resolving latest version for %s: %w", codename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bundle: latest-version lookup for %s returned %s", codename, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	version := string(body)
	for len(version) > 0 && (version[len(version)-1] == '\n' || version[len(version)-1] == '\r') {
		version = version[:len(version)-1]
	}
	return version, nil
}

func (d *HTTPDownloader) Download(ctx context.Context, codename, version, archiveDest, sidecarDest string, progress func(pct int)) error {
	archiveURL, err := url.JoinPath(d.BaseURL, codename, version, "archive.zip")
	if err != nil {
		return err
	}
	if err := d.fetchFile(ctx, archiveURL, archiveDest, progress); err != nil {
		return fmt.Errorf("bundle: downloading archive: %w", err)
	}

	sidecarURL, err := url.JoinPath(d.BaseURL, codename, version, "archive.zip.sha256")
	if err != nil {
		return err
	}
	if err := d.fetchFile(ctx, sidecarURL, sidecarDest, nil); err != nil {
		return fmt.Errorf("bundle: downloading digest sidecar: %w", err)
	}
	return nil
}

func (d *HTTPDownloader) fetchFile(ctx context.Context, fetchURL, dest string, progress func(pct int)) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s for %s", resp.Status, fetchURL)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if progress == nil || resp.ContentLength <= 0 {
		_, err = io.Copy(out, resp.Body)
		return err
	}

	counter := &progressReader{r: resp.Body, total: resp.ContentLength, onPct: progress}
	_, err = io.Copy(out, counter)
	return err
}

// progressReader reports download progress in whole percent as bytes flow
// through Read, without buffering anything extra.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	lastPct int
	onPct   func(pct int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct != p.lastPct {
			p.lastPct = pct
			p.onPct(pct)
		}
	}
	return n, err
}
