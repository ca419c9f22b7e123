package secure

import (
	"io"
	"regexp"
)

// Redacted replaces every credential found in text
const Redacted = "***-REDACTED-***"

var secretPattern = regexp.MustCompile(`sk-[A-Za-z0-9_-]{10,}|hf_[A-Za-z0-9]{10,}`)

// Redact masks OpenAI keys and HuggingFace tokens in s
func Redact(s string) string {
	return secretPattern.ReplaceAllString(s, Redacted)
}

// RedactingWriter masks credentials before forwarding each write
type RedactingWriter struct {
	w io.Writer
}

// NewRedactingWriter wraps w. Intended for log.SetOutput.
func NewRedactingWriter(w io.Writer) *RedactingWriter {
	return &RedactingWriter{w: w}
}

// Write reports len(p) on success so callers see the unredacted byte count.
func (r *RedactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(r.w, Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
