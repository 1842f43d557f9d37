package infra

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// IconDownloader fetches and caches currency icons for the trading UI.
// Icons are normalized to a square PNG of the configured size.
type IconDownloader struct {
	basePath string
	size     int
	sources  map[string]string // currency -> image URL
	client   *http.Client
}

// NewIconDownloader creates a downloader writing into dir.
func NewIconDownloader(dir string, size int, sources map[string]string) (*IconDownloader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create icons directory: %w", err)
	}
	if size <= 0 {
		size = 64
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &IconDownloader{
		basePath: dir,
		size:     size,
		sources:  sources,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// DownloadIcon fetches a currency's icon unless it is already cached.
// Returns the local file path on success.
func (d *IconDownloader) DownloadIcon(currency string) (string, error) {
	// Security: sanitize to prevent path traversal
	safe := sanitizeCurrency(currency)
	if safe == "" {
		return "", fmt.Errorf("invalid currency: %s", currency)
	}

	filePath := filepath.Join(d.basePath, strings.ToLower(safe)+".png")
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Cache hit
	}

	url, ok := d.sources[currency]
	if !ok {
		url = fmt.Sprintf("https://assets.coincap.io/assets/icons/%s@2x.png", strings.ToLower(safe))
	}

	resp, err := d.client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	// Resize with the high-quality Lanczos filter.
	resized := imaging.Resize(srcImg, d.size, d.size, imaging.Lanczos)
	if err := imaging.Save(resized, filePath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}
	return filePath, nil
}

// SyncIcons fetches icons for every currency, logging failures and
// continuing. Intended as a background boot task.
func (d *IconDownloader) SyncIcons(currencies []string) {
	for _, c := range currencies {
		if _, err := d.DownloadIcon(c); err != nil {
			slog.Warn("icon download failed", slog.String("currency", c), slog.Any("error", err))
		}
	}
}

// IconPath returns the local path for a currency's icon.
func (d *IconDownloader) IconPath(currency string) string {
	return filepath.Join(d.basePath, strings.ToLower(sanitizeCurrency(currency))+".png")
}

func sanitizeCurrency(currency string) string {
	res := make([]rune, 0, len(currency))
	for _, r := range currency {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			res = append(res, r)
		}
	}
	return string(res)
}
