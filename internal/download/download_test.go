package download

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ytdl "github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url    string
		source Source
		valid  bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", SourceYouTube, true},
		{"https://youtu.be/dQw4w9WgXcQ", SourceYouTube, true},
		{"http://m.youtube.com/watch?v=abc", SourceYouTube, true},
		{"https://drive.google.com/file/d/1AbCdEfGhIjKlMnOpQrStUvWxYz/view?usp=sharing", SourceDrive, true},
		{"https://drive.google.com/open?id=1AbCdEfGhIjKlMnOp", SourceDrive, true},
		{"https://drive.google.com/drive/my-drive", "", false},
		{"ftp://youtube.com/watch?v=abc", "", false},
		{"https://vimeo.com/12345", "", false},
		{"not a url", "", false},
		{"https://youtube.com.evil.example/watch?v=abc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			source, err := ValidateURL(tt.url)
			if !tt.valid {
				assert.ErrorIs(t, err, types.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.source, source)
		})
	}
}

type fakeVideoClient struct {
	video  *ytdl.Video
	err    error
	body   string
	chosen *ytdl.Format
}

func (f *fakeVideoClient) GetVideoContext(ctx context.Context, url string) (*ytdl.Video, error) {
	return f.video, f.err
}

func (f *fakeVideoClient) GetStreamContext(ctx context.Context, video *ytdl.Video, format *ytdl.Format) (io.ReadCloser, int64, error) {
	f.chosen = format
	return io.NopCloser(strings.NewReader(f.body)), int64(len(f.body)), nil
}

func TestYouTubeDownload(t *testing.T) {
	client := &fakeVideoClient{
		video: &ytdl.Video{
			Title: "Weekly sync: Q3/Q4",
			Formats: ytdl.FormatList{
				{ItagNo: 18, MimeType: "video/mp4", Bitrate: 500000},
				{ItagNo: 140, MimeType: "audio/mp4; codecs=\"mp4a.40.2\"", Bitrate: 128000},
				{ItagNo: 251, MimeType: "audio/webm; codecs=\"opus\"", Bitrate: 160000},
			},
		},
		body: "audio bytes",
	}
	yt := &YouTube{client: client, lookPath: func(string) (string, error) { return "", errors.New("absent") }}

	var percents []int
	dir := t.TempDir()
	path, err := yt.Download(context.Background(), "https://youtu.be/abc", dir, func(phase string, percent int, msg string) {
		percents = append(percents, percent)
	})
	require.NoError(t, err)

	assert.Equal(t, 251, client.chosen.ItagNo)
	assert.Equal(t, filepath.Join(dir, "Weekly sync_ Q3_Q4.webm"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio bytes", string(data))
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestYouTubeFallsBackToYtDlp(t *testing.T) {
	var called string
	yt := &YouTube{
		client:   &fakeVideoClient{err: errors.New("signature extraction failed")},
		lookPath: func(string) (string, error) { return "/usr/bin/yt-dlp", nil },
		ytDlp: func(ctx context.Context, url, outputPath string) error {
			called = url
			return os.WriteFile(outputPath, []byte("opus"), 0644)
		},
	}

	path, err := yt.Download(context.Background(), "https://www.youtube.com/watch?v=abc", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", called)
	assert.Equal(t, "youtube_abc.opus", filepath.Base(path))
}

func TestYouTubeFailureWithoutFallback(t *testing.T) {
	yt := &YouTube{
		client:   &fakeVideoClient{err: errors.New("video unavailable")},
		lookPath: func(string) (string, error) { return "", errors.New("absent") },
	}
	_, err := yt.Download(context.Background(), "https://youtu.be/abc", t.TempDir(), nil)
	assert.ErrorIs(t, err, types.ErrRemoteAPI)
}

func TestDriveDownload(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "publicfile123":
			assert.Equal(t, "t", r.URL.Query().Get("confirm"))
			w.Header().Set("Content-Disposition", `attachment; filename="interview.M4A"`)
			w.Write([]byte("m4a data"))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html>Sign in</html>"))
		}
	}))
	defer srv.Close()

	drive := NewDrive(srv.Client())
	drive.baseURL = srv.URL + "/uc"
	d := NewDownloader(t.TempDir(), nil, drive)

	path, err := d.Download(context.Background(), "https://drive.google.com/file/d/publicfile123/view", types.NewCancelToken(), nil)
	require.NoError(t, err)
	assert.Equal(t, "interview.m4a", filepath.Base(path))

	_, err = d.Download(context.Background(), "https://drive.google.com/open?id=privatefile456", types.NewCancelToken(), nil)
	assert.ErrorIs(t, err, types.ErrInputNotFound)
}

func TestDownloadCancelled(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	drive := NewDrive(srv.Client())
	drive.baseURL = srv.URL + "/uc"
	d := NewDownloader(t.TempDir(), nil, drive)

	token := types.NewCancelToken()
	token.Cancel()
	_, err := d.Download(context.Background(), "https://drive.google.com/file/d/slowfile/view", token, nil)
	assert.True(t, types.IsCancelled(err))
}
