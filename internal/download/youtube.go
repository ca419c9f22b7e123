package download

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// videoClient is the part of the kkdai client used here
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*ytdl.Video, error)
	GetStreamContext(ctx context.Context, video *ytdl.Video, format *ytdl.Format) (io.ReadCloser, int64, error)
}

// YouTube downloads the best audio-only stream of a video
type YouTube struct {
	client   videoClient
	lookPath func(string) (string, error)
	ytDlp    func(ctx context.Context, url, outputPath string) error
}

// NewYouTube creates a downloader backed by kkdai/youtube, with yt-dlp as a
// fallback when it is installed.
func NewYouTube() *YouTube {
	return &YouTube{
		client:   &ytdl.Client{},
		lookPath: exec.LookPath,
		ytDlp:    captureWithYtDlp,
	}
}

// Download saves the audio of videoURL under dir
func (y *YouTube) Download(ctx context.Context, videoURL, dir string, progress types.ProgressFunc) (string, error) {
	if progress != nil {
		progress("downloading", types.ProgressIndeterminate, "Fetching video information...")
	}

	path, err := y.downloadNative(ctx, videoURL, dir, progress)
	if err == nil || ctx.Err() != nil {
		return path, err
	}

	if _, lerr := y.lookPath("yt-dlp"); lerr != nil {
		return "", types.WrapError(types.ErrKindRemoteAPI, "Could not download the YouTube video.", err)
	}
	log.Printf("WARNING: YouTube download failed (%v), retrying with yt-dlp", err)

	outputPath := uniquePath(dir, sanitizeFilename("youtube_"+strings.TrimPrefix(filepath.Base(videoURL), "watch?v=")), ".opus")
	if yerr := y.ytDlp(ctx, videoURL, outputPath); yerr != nil {
		return "", types.WrapError(types.ErrKindRemoteAPI, "Could not download the YouTube video.", yerr)
	}
	return outputPath, nil
}

func (y *YouTube) downloadNative(ctx context.Context, videoURL, dir string, progress types.ProgressFunc) (string, error) {
	video, err := y.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return "", fmt.Errorf("failed to get video: %w", err)
	}

	format := bestAudioFormat(video.Formats)
	if format == nil {
		return "", fmt.Errorf("no audio formats available")
	}

	stream, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	outputPath := uniquePath(dir, sanitizeFilename(video.Title), audioExtension(format.MimeType))
	log.Printf("Downloading YouTube audio %q (itag %d, %d bytes) to %s", video.Title, format.ItagNo, size, outputPath)

	if err := writeStream(ctx, outputPath, stream, size, progress); err != nil {
		return "", err
	}
	return outputPath, nil
}

// bestAudioFormat picks the highest bitrate audio-only format, preferring
// the default audio track.
func bestAudioFormat(formats ytdl.FormatList) *ytdl.Format {
	var audio []*ytdl.Format
	for i := range formats {
		if strings.HasPrefix(formats[i].MimeType, "audio/") {
			audio = append(audio, &formats[i])
		}
	}
	if len(audio) == 0 {
		return nil
	}
	sort.SliceStable(audio, func(i, j int) bool {
		di, dj := isDefaultTrack(audio[i]), isDefaultTrack(audio[j])
		if di != dj {
			return di
		}
		return audio[i].Bitrate > audio[j].Bitrate
	})
	return audio[0]
}

func isDefaultTrack(f *ytdl.Format) bool {
	return f.AudioTrack == nil || f.AudioTrack.AudioIsDefault
}

func audioExtension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return ".m4a"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	}
	return ".mp3"
}

// captureWithYtDlp uses yt-dlp to download YouTube audio
func captureWithYtDlp(ctx context.Context, url, outputPath string) error {
	log.Printf("Using yt-dlp to download: %s", url)

	cmd := exec.CommandContext(ctx, "yt-dlp",
		"-x",                     // Extract audio
		"--audio-format", "opus", // Opus format
		"-o", outputPath, // Output path
		url,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp failed: %w\nOutput: %s", err, string(output))
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("yt-dlp produced no file: %w", err)
	}
	return nil
}
