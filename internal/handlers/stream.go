package handlers

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/transcribrr/internal/config"
	"github.com/codebuildervaibhav/transcribrr/internal/controller"
	"github.com/codebuildervaibhav/transcribrr/internal/transcription"
	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

// StreamHandler receives a live recording over WebSocket and transcribes
// it once the client sends END.
type StreamHandler struct {
	jobs     JobStarter
	settings *config.Store
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(js JobStarter, settings *config.Store) *StreamHandler {
	return &StreamHandler{jobs: js, settings: settings}
}

type streamReply struct {
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Handle processes WebSocket connections. Text frames other than END set
// the recording name; binary frames are audio data.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer      bytes.Buffer
		requestName string
		ended       bool
	)
	cfg := h.settings.Current()
	maxSize := cfg.Transcription.MaxFileSize

	log.Printf("WebSocket stream connection established from %s", c.RemoteAddr())

	for !ended {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Printf("WebSocket read error: %v", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			msgStr := strings.TrimSpace(string(message))
			if msgStr == "END" {
				log.Printf("Received END signal, processing stream...")
				ended = true
				continue
			}
			if len(msgStr) > 0 && len(msgStr) < 200 {
				requestName = msgStr
			}
		case websocket.BinaryMessage:
			if maxSize > 0 && int64(buffer.Len()+len(message)) > maxSize {
				reply(c, streamReply{Error: "Recording too large", Code: "ERR_FILE_TOO_LARGE"})
				return
			}
			buffer.Write(message)
		}
	}

	if buffer.Len() == 0 {
		reply(c, streamReply{Error: "No audio data received", Code: "ERR_NO_FILE"})
		return
	}
	if requestName == "" {
		requestName = "stream_recording"
	}

	dir := cfg.Storage.RecordingsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Failed to create recordings directory: %v", err)
		reply(c, streamReply{Error: "Failed to save recording", Code: "ERR_SAVE_FAILED"})
		return
	}
	target := transcription.UniqueTargetPath(dir, filepath.Base(requestName), "", ".webm")
	if err := os.WriteFile(target, buffer.Bytes(), 0644); err != nil {
		log.Printf("Failed to save stream buffer: %v", err)
		reply(c, streamReply{Error: "Failed to save recording", Code: "ERR_SAVE_FAILED"})
		return
	}
	log.Printf("Stream saved to %s (%d bytes)", target, buffer.Len())

	jobID, err := h.jobs.StartTranscription(target, controller.TranscribeOptions{})
	if err != nil {
		_, code := errorStatus(err)
		reply(c, streamReply{Error: types.UserMessage(err), Code: code})
		return
	}
	reply(c, streamReply{JobID: jobID, Status: "pending"})
}

func reply(c *websocket.Conn, r streamReply) {
	data, _ := json.Marshal(r)
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("WebSocket write error: %v", err)
	}
}
