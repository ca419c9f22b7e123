package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveExporter uploads transcripts to Google Drive
type DriveExporter struct {
	mu         sync.Mutex
	service    *drive.Service
	folderName string
	folderID   string
	now        func() time.Time
}

// NewDriveExporter builds a Drive client from an OAuth client credentials
// file and a previously authorized token file. There is no interactive
// authorization flow; a missing token is a configuration error.
func NewDriveExporter(ctx context.Context, credentialsFile, tokenFile, folderName string) (*DriveExporter, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, types.WrapError(types.ErrKindConfiguration, "Google Drive credentials file not found.", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, types.WrapError(types.ErrKindConfiguration, "Google Drive credentials are invalid.", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, types.WrapError(types.ErrKindConfiguration, "Google Drive is not authorized. Add a token file in settings.", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	return &DriveExporter{service: srv, folderName: folderName, now: time.Now}, nil
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func (dc *DriveExporter) Name() string { return "gdrive" }

// Export uploads the transcript and its metadata into
// <folder>/YYYY/MM/DD and returns a link to the transcript.
func (dc *DriveExporter) Export(ctx context.Context, rec types.Recording) (string, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.folderID == "" {
		id, err := dc.findOrCreateFolder(ctx, dc.folderName, "")
		if err != nil {
			return "", driveError(ctx, "unable to find root folder", err)
		}
		dc.folderID = id
	}

	now := dc.now()
	folderID, err := dc.ensureDateFolder(ctx, now)
	if err != nil {
		return "", driveError(ctx, "unable to create date folder", err)
	}

	base := exportBaseName(rec.Name, now)
	txt, err := dc.service.Files.Create(&drive.File{Name: base + ".txt", Parents: []string{folderID}}).
		Media(strings.NewReader(rec.RawTranscript)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", driveError(ctx, "failed to upload transcript", err)
	}

	metaJSON, err := json.MarshalIndent(NewExportMetadata(rec, now), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = dc.service.Files.Create(&drive.File{Name: base + "_meta.json", Parents: []string{folderID}}).
		Media(bytes.NewReader(metaJSON)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", driveError(ctx, "failed to upload metadata", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", txt.Id), nil
}

// ensureDateFolder creates nested year/month/day folders
func (dc *DriveExporter) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	parent := dc.folderID
	for _, name := range []string{fmt.Sprintf("%d", t.Year()), fmt.Sprintf("%02d", t.Month()), fmt.Sprintf("%02d", t.Day())} {
		id, err := dc.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

// findOrCreateFolder finds or creates a folder; an empty parentID means
// the Drive root.
func (dc *DriveExporter) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false", escapeDriveQuery(name), folderMimeType)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{Name: name, MimeType: folderMimeType}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	file, err := dc.service.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}

func escapeDriveQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func driveError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return types.Cancelled("Export cancelled.")
	}
	return types.WrapError(types.ErrKindRemoteAPI, "Google Drive upload failed.", fmt.Errorf("%s: %w", op, err))
}
