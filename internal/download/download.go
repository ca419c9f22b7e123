// Package download fetches remote media (YouTube videos, Google Drive share
// links) into a local directory so it can be transcribed.
package download

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// Source identifies where a link points
type Source string

const (
	SourceYouTube Source = "youtube"
	SourceDrive   Source = "gdrive"
)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// ValidateURL checks that raw is an http(s) link to a supported host
func ValidateURL(raw string) (Source, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", types.Validationf("Invalid URL: %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", types.Validationf("Only http and https links are supported.")
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case youtubeHosts[host]:
		return SourceYouTube, nil
	case host == "drive.google.com":
		if extractDriveFileID(raw) == "" {
			return "", types.Validationf("Invalid Google Drive URL")
		}
		return SourceDrive, nil
	}
	return "", types.Validationf("Only YouTube and Google Drive links are supported.")
}

// IsURL reports whether input looks like a link rather than a local path
func IsURL(input string) bool {
	s := strings.ToLower(strings.TrimSpace(input))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Downloader routes links to the matching source
type Downloader struct {
	dir     string
	youtube *YouTube
	drive   *Drive
}

// NewDownloader stores downloads under dir
func NewDownloader(dir string, yt *YouTube, drive *Drive) *Downloader {
	if yt == nil {
		yt = NewYouTube()
	}
	if drive == nil {
		drive = NewDrive(nil)
	}
	return &Downloader{dir: dir, youtube: yt, drive: drive}
}

// Download fetches rawURL and returns the local file path. The transfer is
// aborted when token is cancelled.
func (d *Downloader) Download(ctx context.Context, rawURL string, token *types.CancelToken, progress types.ProgressFunc) (string, error) {
	source, err := ValidateURL(rawURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	ctx, cancel := token.Context(ctx)
	defer cancel()

	var path string
	switch source {
	case SourceYouTube:
		path, err = d.youtube.Download(ctx, rawURL, d.dir, progress)
	case SourceDrive:
		path, err = d.drive.Download(ctx, rawURL, d.dir, progress)
	}
	if err != nil {
		if token.Cancelled() || ctx.Err() != nil {
			return "", types.Cancelled("Download cancelled.")
		}
		return "", err
	}
	return path, nil
}

// copyWithProgress copies src to dst, reporting percent of total when known
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress types.ProgressFunc) error {
	buf := make([]byte, 32*1024)
	var written int64
	lastPercent := -2

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			written += int64(nw)
			if ew != nil {
				return ew
			}
			if progress != nil {
				percent := types.ProgressIndeterminate
				if total > 0 {
					percent = int(written * 100 / total)
				}
				if percent != lastPercent {
					lastPercent = percent
					progress("downloading", percent, fmt.Sprintf("Downloaded %d KB", written/1024))
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// sanitizeFilename keeps a title usable as a file name
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_")
	result := strings.TrimSpace(replacer.Replace(name))
	if len(result) > 100 {
		result = result[:100]
	}
	if result == "" || result == "." || result == ".." {
		result = "download"
	}
	return result
}

// uniquePath returns dir/name+ext, adding _1, _2, ... when taken
func uniquePath(dir, name, ext string) string {
	target := filepath.Join(dir, name+ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			return target
		}
		target = filepath.Join(dir, fmt.Sprintf("%s_%d%s", name, counter, ext))
	}
}

// writeStream saves r to path, removing the partial file on failure
func writeStream(ctx context.Context, path string, r io.Reader, total int64, progress types.ProgressFunc) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	err = copyWithProgress(ctx, file, r, total, progress)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to download: %w", err)
	}
	return nil
}
