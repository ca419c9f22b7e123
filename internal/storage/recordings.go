package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrDuplicatePath is returned when a recording with the same file path exists
	ErrDuplicatePath = &types.Error{Kind: types.ErrKindPersistence, Constraint: types.ConstraintUnique}
	// ErrNotNull is returned when a required column is missing
	ErrNotNull = &types.Error{Kind: types.ErrKindPersistence, Constraint: types.ConstraintNotNull}
	// ErrRecordingNotFound is returned for unknown recording ids
	ErrRecordingNotFound = types.NewError(types.ErrKindInputNotFound, "Recording not found.")
)

const timeLayout = time.RFC3339Nano

const recordingColumns = `id, filename, file_path, date_created, duration, raw_transcript, processed_text,
	raw_transcript_formatted, processed_text_formatted, updated_at`

// RecordingStore handles SQLite database operations for recordings
type RecordingStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenRecordingStore opens (creating if needed) the database at path.
// The store uses a single connection; callers serialize access through
// the Gateway.
func OpenRecordingStore(path string) (*RecordingStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &RecordingStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (s *RecordingStore) Close() error {
	return s.db.Close()
}

// Create inserts rec and returns it with its assigned id
func (s *RecordingStore) Create(ctx context.Context, rec types.Recording) (*types.Recording, error) {
	now := s.now()
	if rec.DateCreated.IsZero() {
		rec.DateCreated = now
	}
	rec.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO recordings (filename, file_path, date_created, duration, raw_transcript, processed_text,
		raw_transcript_formatted, processed_text_formatted, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(rec.Name), nullIfEmpty(rec.FilePath), rec.DateCreated.Format(timeLayout), rec.Duration,
		nullIfEmpty(rec.RawTranscript), nullIfEmpty(rec.ProcessedText),
		nullIfEmpty(rec.RawTranscriptFormatted), nullIfEmpty(rec.ProcessedTextFormatted),
		rec.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, mapError("create recording", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return nil, mapError("create recording", err)
	}
	return &rec, nil
}

// RecordingUpdate lists the fields to change; nil fields are left alone.
type RecordingUpdate struct {
	Name                   *string  `json:"name,omitempty"`
	Duration               *float64 `json:"duration,omitempty"`
	RawTranscript          *string  `json:"raw_transcript,omitempty"`
	ProcessedText          *string  `json:"processed_text,omitempty"`
	RawTranscriptFormatted *string  `json:"raw_transcript_formatted,omitempty"`
	ProcessedTextFormatted *string  `json:"processed_text_formatted,omitempty"`
}

// Update applies u to the recording and re-stamps updated_at
func (s *RecordingStore) Update(ctx context.Context, id int64, u RecordingUpdate) (*types.Recording, error) {
	sets := []string{"updated_at = ?"}
	args := []any{s.now().Format(timeLayout)}

	addString := func(column string, v *string) {
		if v != nil {
			sets = append(sets, column+" = ?")
			args = append(args, nullIfEmpty(*v))
		}
	}
	addString("filename", u.Name)
	addString("raw_transcript", u.RawTranscript)
	addString("processed_text", u.ProcessedText)
	addString("raw_transcript_formatted", u.RawTranscriptFormatted)
	addString("processed_text_formatted", u.ProcessedTextFormatted)
	if u.Duration != nil {
		sets = append(sets, "duration = ?")
		args = append(args, *u.Duration)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE recordings SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, mapError("update recording", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRecordingNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a recording; its folder links are removed by cascade
func (s *RecordingStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return mapError("delete recording", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordingNotFound
	}
	return nil
}

// Get retrieves a recording by id
func (s *RecordingStore) Get(ctx context.Context, id int64) (*types.Recording, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordingColumns+" FROM recordings WHERE id = ?", id)
	return scanRecording(row)
}

// GetByPath retrieves a recording by its file path
func (s *RecordingStore) GetByPath(ctx context.Context, path string) (*types.Recording, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordingColumns+" FROM recordings WHERE file_path = ?", path)
	return scanRecording(row)
}

// List returns all recordings, newest first
func (s *RecordingStore) List(ctx context.Context) ([]types.Recording, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordingColumns+" FROM recordings ORDER BY date_created DESC, id DESC")
	if err != nil {
		return nil, mapError("list recordings", err)
	}
	return scanRecordings(rows)
}

// Search matches query against names and both transcripts
func (s *RecordingStore) Search(ctx context.Context, query string) ([]types.Recording, error) {
	if strings.TrimSpace(query) == "" {
		return s.List(ctx)
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordingColumns+` FROM recordings
	WHERE filename LIKE ? ESCAPE '\' OR raw_transcript LIKE ? ESCAPE '\' OR processed_text LIKE ? ESCAPE '\'
	ORDER BY date_created DESC, id DESC`, pattern, pattern, pattern)
	if err != nil {
		return nil, mapError("search recordings", err)
	}
	return scanRecordings(rows)
}

// CreateFolder adds a named folder and returns its id
func (s *RecordingStore) CreateFolder(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO folders (name, created_at) VALUES (?, ?)",
		nullIfEmpty(name), s.now().Format(timeLayout))
	if err != nil {
		return 0, mapError("create folder", err)
	}
	return res.LastInsertId()
}

// AddToFolder links a recording to a folder
func (s *RecordingStore) AddToFolder(ctx context.Context, recordingID, folderID int64) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO recording_folders (recording_id, folder_id) VALUES (?, ?)",
		recordingID, folderID)
	return mapError("add to folder", err)
}

// FolderCount returns how many folder links a recording has
func (s *RecordingStore) FolderCount(ctx context.Context, recordingID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM recording_folders WHERE recording_id = ?", recordingID).Scan(&n)
	return n, mapError("count folders", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*types.Recording, error) {
	var (
		rec                                  types.Recording
		dateCreated                          string
		duration                             sql.NullFloat64
		raw, processed, rawFmt, processedFmt sql.NullString
		updatedAt                            sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.FilePath, &dateCreated, &duration,
		&raw, &processed, &rawFmt, &processedFmt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, mapError("read recording", err)
	}

	rec.DateCreated, _ = time.Parse(timeLayout, dateCreated)
	if updatedAt.Valid {
		rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt.String)
	}
	rec.Duration = duration.Float64
	rec.RawTranscript = raw.String
	rec.ProcessedText = processed.String
	rec.RawTranscriptFormatted = rawFmt.String
	rec.ProcessedTextFormatted = processedFmt.String
	return &rec, nil
}

func scanRecordings(rows *sql.Rows) ([]types.Recording, error) {
	defer rows.Close()
	out := []types.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, mapError("read recordings", rows.Err())
}

// mapError turns driver errors into typed persistence errors
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}

	e := types.WrapError(types.ErrKindPersistence, "", fmt.Errorf("%s: %w", op, err))

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			e.Constraint = types.ConstraintUnique
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			e.Constraint = types.ConstraintNotNull
		}
	}
	// extended codes are not always reported; fall back to the message
	if e.Constraint == "" {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			e.Constraint = types.ConstraintUnique
		case strings.Contains(msg, "NOT NULL constraint failed"):
			e.Constraint = types.ConstraintNotNull
		}
	}

	switch e.Constraint {
	case types.ConstraintUnique:
		e.Message = "A recording for this file already exists."
	case types.ConstraintNotNull:
		e.Message = "The recording is missing a required field."
	}
	return e
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
