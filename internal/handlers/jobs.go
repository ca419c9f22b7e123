package handlers

import (
	"encoding/json"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/transcribrr/internal/jobs"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// JobsHandler lists, inspects and cancels jobs and streams notifications
type JobsHandler struct {
	jobs JobStarter
	bus  *jobs.EventBus
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(js JobStarter, bus *jobs.EventBus) *JobsHandler {
	return &JobsHandler{jobs: js, bus: bus}
}

// List handles GET /api/jobs
func (h *JobsHandler) List(c *fiber.Ctx) error {
	return c.JSON(h.jobs.Jobs())
}

// Get handles GET /api/jobs/:id
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	snap, ok := h.jobs.Job(c.Params("id"))
	if !ok {
		return respondError(c, types.NewError(types.ErrKindInputNotFound, "Job not found."))
	}
	return c.JSON(snap)
}

// Cancel handles DELETE /api/jobs/:id. It returns once cancellation is
// requested; the terminal state arrives as an event.
func (h *JobsHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.jobs.Cancel(id); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  id,
		"message": "Cancellation requested",
	})
}

// Events handles GET /api/events?since=N
func (h *JobsHandler) Events(c *fiber.Ctx) error {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		return badRequest(c, "since must be a non-negative integer", "ERR_VALIDATION")
	}
	return c.JSON(fiber.Map{
		"events": h.bus.Since(since),
	})
}

// Stream handles the /ws/events WebSocket: the backlog after ?since=N,
// then live notifications until the client disconnects.
func (h *JobsHandler) Stream(conn *websocket.Conn) {
	defer conn.Close()

	since, _ := parseSince(conn.Query("since"))
	live, unsubscribe := h.bus.Subscribe(64)
	defer unsubscribe()

	last := since
	for _, n := range h.bus.Since(since) {
		if err := writeNotification(conn, n); err != nil {
			return
		}
		last = n.Seq
	}

	// reads only detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n, ok := <-live:
			if !ok {
				return
			}
			if n.Seq <= last {
				continue
			}
			if err := writeNotification(conn, n); err != nil {
				log.Printf("Event stream write failed: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}

func writeNotification(conn *websocket.Conn, n jobs.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func parseSince(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, types.Validationf("invalid since %q", raw)
	}
	return since, nil
}
