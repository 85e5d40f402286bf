// Package transcript persists a finished sales conversation: the dialogue
// history together with its outcome record.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/harunnryd/closer/pkg/errorsx"
	"github.com/harunnryd/closer/pkg/metrics"
	"github.com/harunnryd/closer/pkg/outcome"
	"github.com/harunnryd/closer/pkg/redact"
)

const (
	DefaultDir      = "logs"
	TimestampLayout = "20060102_150405"

	// FilePattern matches every file the writer produces.
	FilePattern = "conversation_*.json"
)

// HistorySource exposes the dialogue history of a session.
type HistorySource interface {
	Export() (any, error)
}

// OutcomeSource exposes the outcome record of a session.
type OutcomeSource interface {
	Snapshot() outcome.Snapshot
}

// SessionOutcome is the persisted form of the outcome record.
type SessionOutcome struct {
	outcome.Snapshot
	Timestamp string `json:"timestamp"`
	RoomName  string `json:"room_name"`
}

// Document is the full file content.
type Document struct {
	ConversationHistory any            `json:"conversation_history"`
	SessionOutcome      SessionOutcome `json:"session_outcome"`
}

type Writer struct {
	Dir      string
	Now      func() time.Time
	Logger   *slog.Logger
	Observer metrics.Observer
}

func NewWriter(dir string, log *slog.Logger, obs metrics.Observer) *Writer {
	return &Writer{Dir: dir, Logger: log, Observer: obs}
}

var unsafeRoomChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename returns the file name for a room at time ts.
func Filename(room string, ts time.Time) string {
	return fmt.Sprintf("conversation_%s_%s.json", sanitizeRoom(room), ts.Format(TimestampLayout))
}

func sanitizeRoom(room string) string {
	clean := unsafeRoomChars.ReplaceAllString(room, "_")
	if clean == "" || clean == "." || clean == ".." {
		return "unknown"
	}
	return clean
}

// Write reads the history and outcome and writes the transcript file. It
// returns the written path. A history failure is logged and yields an empty
// path with a nil error; nothing is written in that case.
func (w *Writer) Write(ctx context.Context, room string, hist HistorySource, rec OutcomeSource) (string, error) {
	log := w.logger().With("room", room)
	history, err := hist.Export()
	if err != nil {
		log.Error("transcript_history_failed", "error", errorsx.Wrap(err, errorsx.ReasonHistoryRead))
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("transcript: %w", err), errorsx.ReasonTranscriptWrite)
	}

	ts := w.now()
	snap := rec.Snapshot()
	doc := Document{
		ConversationHistory: history,
		SessionOutcome: SessionOutcome{
			Snapshot:  snap,
			Timestamp: ts.Format(TimestampLayout),
			RoomName:  room,
		},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("transcript encode: %w", err), errorsx.ReasonTranscriptWrite)
	}

	dir := w.dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("transcript dir: %w", err), errorsx.ReasonTranscriptWrite)
	}
	path := filepath.Join(dir, Filename(room, ts))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("transcript write: %w", err), errorsx.ReasonTranscriptWrite)
	}

	log.Info("transcript_saved", "path", path)
	logOutcome(log, snap)
	if w.Observer != nil {
		w.Observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventTranscriptWritten,
			Time: time.Now(),
			Tags: map[string]string{"room": room, "result": Result(snap)},
		})
	}
	return path, nil
}

// ShutdownHook returns a session shutdown callback that writes the transcript.
func (w *Writer) ShutdownHook(room string, hist HistorySource, rec OutcomeSource) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := w.Write(ctx, room, hist, rec)
		return err
	}
}

// Result classifies a snapshot as "sale", "no_sale" or "incomplete". A sale
// needs a phone number to follow up on; a yes without one is incomplete.
func Result(s outcome.Snapshot) string {
	switch {
	case s.PhoneNumber != nil:
		return "sale"
	case s.ConversationCompleted:
		return "no_sale"
	default:
		return "incomplete"
	}
}

func logOutcome(log *slog.Logger, s outcome.Snapshot) {
	switch Result(s) {
	case "sale":
		log.Info("SALE", "user_name", *s.UserName, "phone_number", redact.Phone(*s.PhoneNumber))
	case "no_sale":
		log.Info("NO SALE")
	default:
		log.Info("INCOMPLETE")
	}
}

func (w *Writer) dir() string {
	if w.Dir == "" {
		return DefaultDir
	}
	return w.Dir
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
