package worker

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/scenarist/internal/action"
	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/telegram"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) (*store.DB, *timeutil.FakeClock) {
	t.Helper()
	clock := timeutil.NewFakeClock(testStart)
	db, err := store.Open(store.Config{Driver: store.DriverModernc, Path: filepath.Join(t.TempDir(), "test.db")}, clock)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, clock
}

func parsed(data map[string]any) *action.Parsed {
	return &action.Parsed{Action: &store.Action{ID: 1}, Data: flat.Map(data)}
}

// fakeMessenger records every outbound call. Message ids start at 100.
type fakeMessenger struct {
	mu sync.Mutex

	texts     []telegram.OutgoingMessage
	media     []telegram.MediaMessage
	groups    []telegram.MediaGroup
	edits     []telegram.EditMessage
	deletes   [][2]int64
	downloads []string

	sendErr   func(replyTo int64) error
	editErr   error
	deleteErr error
	files     map[string]string
	nextID    int64
	uploads   int
}

func (m *fakeMessenger) id() int64 {
	if m.nextID == 0 {
		m.nextID = 100
	}
	id := m.nextID
	m.nextID++
	return id
}

func (m *fakeMessenger) fail(replyTo int64) error {
	if m.sendErr == nil {
		return nil
	}
	return m.sendErr(replyTo)
}

func (m *fakeMessenger) fileID(a telegram.Attachment) string {
	if a.FileID != "" {
		return a.FileID
	}
	if a.IsUpload() {
		m.uploads++
		return "uploaded-" + filepath.Base(a.Path)
	}
	return ""
}

func (m *fakeMessenger) SendMessage(_ context.Context, msg telegram.OutgoingMessage) (*telegram.SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(msg.ReplyTo); err != nil {
		return nil, err
	}
	m.texts = append(m.texts, msg)
	return &telegram.SentMessage{ChatID: msg.ChatID, MessageID: m.id()}, nil
}

func (m *fakeMessenger) SendMedia(_ context.Context, msg telegram.MediaMessage) (*telegram.SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(msg.ReplyTo); err != nil {
		return nil, err
	}
	m.media = append(m.media, msg)
	return &telegram.SentMessage{ChatID: msg.ChatID, MessageID: m.id(), FileID: m.fileID(msg.Attachment)}, nil
}

func (m *fakeMessenger) SendMediaGroup(_ context.Context, g telegram.MediaGroup) ([]telegram.SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(g.ReplyTo); err != nil {
		return nil, err
	}
	m.groups = append(m.groups, g)
	out := make([]telegram.SentMessage, 0, len(g.Attachments))
	for _, a := range g.Attachments {
		out = append(out, telegram.SentMessage{ChatID: g.ChatID, MessageID: m.id(), FileID: m.fileID(a)})
	}
	return out, nil
}

func (m *fakeMessenger) EditMessage(_ context.Context, msg telegram.EditMessage) (*telegram.SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, msg)
	if m.editErr != nil {
		return nil, m.editErr
	}
	return &telegram.SentMessage{ChatID: msg.ChatID, MessageID: msg.MessageID}, nil
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, chatID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, [2]int64{chatID, messageID})
	return m.deleteErr
}

func (m *fakeMessenger) DownloadFile(_ context.Context, fileID string, w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, fileID)
	body, ok := m.files[fileID]
	if !ok {
		return errors.New("file not found")
	}
	_, err := io.Copy(w, strings.NewReader(body))
	return err
}

func (m *fakeMessenger) GetEntity(_ context.Context, id int64) (*telegram.Entity, error) {
	return &telegram.Entity{ID: id, Type: telegram.PeerTypeOf(id)}, nil
}
