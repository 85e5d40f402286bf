package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/closer/pkg/errorsx"
	"github.com/harunnryd/closer/pkg/metrics"
	"github.com/harunnryd/closer/pkg/outcome"
)

type staticHistory struct {
	doc any
	err error
}

func (h staticHistory) Export() (any, error) { return h.doc, h.err }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func completedRecord() *outcome.Record {
	rec := outcome.New(outcome.Prompts{})
	rec.RecordDecision(true)
	rec.RecordName("José")
	rec.RecordPhone("555-1234")
	return rec
}

func TestFilenamePattern(t *testing.T) {
	name := Filename("room42", time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	if name != "conversation_room42_20260304_050607.json" {
		t.Fatalf("unexpected filename %q", name)
	}
	re := regexp.MustCompile(`^conversation_room42_\d{8}_\d{6}\.json$`)
	if !re.MatchString(Filename("room42", time.Now())) {
		t.Fatalf("filename does not match pattern")
	}
}

func TestFilenameSanitizesRoom(t *testing.T) {
	cases := map[string]string{
		"../etc/passwd": "conversation_.._etc_passwd_20260101_000000.json",
		"sales room":    "conversation_sales_room_20260101_000000.json",
		"":              "conversation_unknown_20260101_000000.json",
	}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for room, want := range cases {
		if got := Filename(room, ts); got != want {
			t.Fatalf("room %q: expected %q, got %q", room, want, got)
		}
	}
}

func TestWriteProducesDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	obs := &metrics.MemoryObserver{}
	w := &Writer{
		Dir:      dir,
		Now:      func() time.Time { return time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC) },
		Logger:   quietLogger(),
		Observer: obs,
	}
	history := map[string]any{"items": []any{map[string]any{"role": "user", "content": []string{"<yes> please"}}}}
	path, err := w.Write(context.Background(), "room42", staticHistory{doc: history}, completedRecord())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "conversation_room42_20261019_143000.json" {
		t.Fatalf("unexpected path %q", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "José") || !strings.Contains(string(raw), "<yes> please") {
		t.Fatalf("expected unescaped text in file, got %s", raw)
	}
	if !strings.Contains(string(raw), "\n  \"session_outcome\"") {
		t.Fatalf("expected indented JSON, got %s", raw)
	}

	var doc struct {
		ConversationHistory map[string]any `json:"conversation_history"`
		SessionOutcome      map[string]any `json:"session_outcome"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc.ConversationHistory["items"]; !ok {
		t.Fatalf("expected history items, got %v", doc.ConversationHistory)
	}
	want := map[string]any{
		"wants_to_buy":           true,
		"user_name":              "José",
		"phone_number":           "555-1234",
		"conversation_completed": true,
		"timestamp":              "20261019_143000",
		"room_name":              "room42",
	}
	for k, v := range want {
		if doc.SessionOutcome[k] != v {
			t.Fatalf("session_outcome[%s]: expected %v, got %v", k, v, doc.SessionOutcome[k])
		}
	}
	if len(obs.Named(metrics.EventTranscriptWritten)) != 1 {
		t.Fatalf("expected transcript event")
	}
}

func TestDeclinedOutcomeKeepsNulls(t *testing.T) {
	dir := t.TempDir()
	rec := outcome.New(outcome.Prompts{})
	rec.RecordDecision(false)
	w := &Writer{Dir: dir, Logger: quietLogger()}
	path, err := w.Write(context.Background(), "r1", staticHistory{doc: []any{}}, rec)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, _ := os.ReadFile(path)
	var doc struct {
		SessionOutcome map[string]any `json:"session_outcome"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := doc.SessionOutcome["user_name"]; !ok || v != nil {
		t.Fatalf("expected explicit null user_name, got %v (present=%v)", v, ok)
	}
	if doc.SessionOutcome["wants_to_buy"] != false || doc.SessionOutcome["conversation_completed"] != true {
		t.Fatalf("unexpected outcome %v", doc.SessionOutcome)
	}
}

func TestHistoryFailureWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	w := &Writer{Dir: dir, Logger: quietLogger()}
	hook := w.ShutdownHook("room42", staticHistory{err: errors.New("history gone")}, completedRecord())
	if err := hook(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no output dir, stat err=%v", err)
	}
}

func TestFilesystemFailureIsReturned(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	w := &Writer{Dir: filepath.Join(blocker, "logs"), Logger: quietLogger()}
	_, err := w.Write(context.Background(), "room42", staticHistory{doc: []any{}}, completedRecord())
	if !errorsx.HasReason(err, errorsx.ReasonTranscriptWrite) {
		t.Fatalf("expected transcript_write error, got %v", err)
	}
}

func TestResultClassification(t *testing.T) {
	if got := Result(outcome.New(outcome.Prompts{}).Snapshot()); got != "incomplete" {
		t.Fatalf("expected incomplete, got %s", got)
	}
	if got := Result(completedRecord().Snapshot()); got != "sale" {
		t.Fatalf("expected sale, got %s", got)
	}
	declined := outcome.New(outcome.Prompts{})
	declined.RecordDecision(false)
	if got := Result(declined.Snapshot()); got != "no_sale" {
		t.Fatalf("expected no_sale, got %s", got)
	}
	capturing := outcome.New(outcome.Prompts{})
	capturing.RecordDecision(true)
	capturing.RecordName("Alice")
	if got := Result(capturing.Snapshot()); got != "incomplete" {
		t.Fatalf("expected yes without phone to be incomplete, got %s", got)
	}
}
