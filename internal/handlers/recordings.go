package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcribrr/internal/storage"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// Querier runs one persistence operation and waits for its result
type Querier interface {
	Do(ctx context.Context, op storage.Op) (storage.Result, error)
}

// RecordingsHandler serves saved recordings and starts jobs on them
type RecordingsHandler struct {
	jobs JobStarter
	db   Querier
}

// NewRecordingsHandler creates a new recordings handler
func NewRecordingsHandler(js JobStarter, db Querier) *RecordingsHandler {
	return &RecordingsHandler{jobs: js, db: db}
}

// recordingView adds the derived status to a recording
type recordingView struct {
	types.Recording
	Status types.RecordingStatus `json:"status"`
}

func viewOf(rec types.Recording) recordingView {
	return recordingView{Recording: rec, Status: rec.Status()}
}

func (h *RecordingsHandler) do(c *fiber.Ctx, op storage.Op) (storage.Result, error) {
	ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
	defer cancel()
	op.Entity = storage.EntityRecording
	return h.db.Do(ctx, op)
}

// List handles GET /api/recordings?q=
func (h *RecordingsHandler) List(c *fiber.Ctx) error {
	res, err := h.do(c, storage.Op{Kind: storage.OpQuery, Payload: storage.Query{Search: c.Query("q")}})
	if err != nil {
		return respondError(c, err)
	}
	recs, _ := res.Data.([]types.Recording)
	out := make([]recordingView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewOf(rec))
	}
	return c.JSON(out)
}

// Get handles GET /api/recordings/:id
func (h *RecordingsHandler) Get(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return respondError(c, err)
	}
	res, err := h.do(c, storage.Op{Kind: storage.OpQuery, Payload: storage.Query{ID: id}})
	if err != nil {
		return respondError(c, err)
	}
	rec, ok := res.Data.(*types.Recording)
	if !ok {
		return respondError(c, storage.ErrRecordingNotFound)
	}
	return c.JSON(viewOf(*rec))
}

// Delete handles DELETE /api/recordings/:id. The media file is kept.
func (h *RecordingsHandler) Delete(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.do(c, storage.Op{Kind: storage.OpDelete, Payload: id}); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ProcessRequest is the body of POST /api/recordings/:id/process
type ProcessRequest struct {
	Prompt string `json:"prompt"`
}

// Process handles POST /api/recordings/:id/process
func (h *RecordingsHandler) Process(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return respondError(c, err)
	}
	var req ProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body", "ERR_INVALID_BODY")
	}
	jobID, err := h.jobs.ProcessWithLLM(id, req.Prompt)
	if err != nil {
		return respondError(c, err)
	}
	return accepted(c, jobID, "Processing started")
}

// Export handles POST /api/recordings/:id/export
func (h *RecordingsHandler) Export(c *fiber.Ctx) error {
	id, err := recordingID(c)
	if err != nil {
		return respondError(c, err)
	}
	jobID, err := h.jobs.ExportRecording(id)
	if err != nil {
		return respondError(c, err)
	}
	return accepted(c, jobID, "Export started")
}

func recordingID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, types.Validationf("Invalid recording id %q.", c.Params("id"))
	}
	return int64(id), nil
}
