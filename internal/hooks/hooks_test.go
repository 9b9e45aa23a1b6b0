package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatscribe/chatscribe/internal/database"
	"github.com/chatscribe/chatscribe/internal/normalize"
	"github.com/chatscribe/chatscribe/internal/source"
)

type msgKey struct{ chatID, messageID int64 }

type memStores struct {
	chats    map[int64]*database.Chat
	users    map[int64]*database.User
	messages map[msgKey]*database.Message
	configs  map[int64]*database.ChatConfig
	media    map[string]*database.Media
}

func newMemStores() *memStores {
	return &memStores{
		chats:    map[int64]*database.Chat{},
		users:    map[int64]*database.User{},
		messages: map[msgKey]*database.Message{},
		configs:  map[int64]*database.ChatConfig{},
		media:    map[string]*database.Media{},
	}
}

func (s *memStores) SaveChat(_ context.Context, chat *source.Chat) (*database.Chat, error) {
	row := &database.Chat{ID: chat.ID, ChatType: chat.Kind}
	s.chats[chat.ID] = row
	return row, nil
}

func (s *memStores) GetChat(_ context.Context, chatID int64) (*database.Chat, error) {
	return s.chats[chatID], nil
}

func (s *memStores) ListChats(context.Context) ([]database.Chat, error) { return nil, nil }

func (s *memStores) SaveUser(_ context.Context, user *source.User) (*database.User, error) {
	row := &database.User{ID: user.ID, Username: database.NullString(user.Username)}
	s.users[user.ID] = row
	return row, nil
}

func (s *memStores) GetUser(_ context.Context, userID int64) (*database.User, error) {
	return s.users[userID], nil
}

func (s *memStores) GetUsers(context.Context, []int64) ([]database.User, error) { return nil, nil }

func (s *memStores) SaveMessage(_ context.Context, msg *source.Message) (*database.Message, error) {
	row := &database.Message{
		MessageID:   msg.ID,
		ChatID:      msg.ChatID,
		Date:        msg.Date,
		MessageType: "text",
		RawData:     normalize.JSON(msg.Raw),
	}
	if msg.IsAction {
		row.MessageType = "action"
	} else if msg.MediaKind != "" {
		row.MessageType = msg.MediaKind
	}
	s.messages[msgKey{msg.ChatID, msg.ID}] = row
	return row, nil
}

func (s *memStores) SaveBatch(context.Context, []source.Message) (int64, error) { return 0, nil }

func (s *memStores) GetMessage(_ context.Context, chatID, messageID int64) (*database.Message, error) {
	return s.messages[msgKey{chatID, messageID}], nil
}

func (s *memStores) GetFirstMessageID(context.Context, int64) (int64, error) { return 0, nil }

func (s *memStores) DeleteMessages(_ context.Context, chatID int64, ids []int64) (int64, error) {
	var affected int64
	for _, id := range ids {
		if m, ok := s.messages[msgKey{chatID, id}]; ok && !m.IsDeleted {
			m.IsDeleted = true
			affected++
		}
	}
	return affected, nil
}

func (s *memStores) GetMessagesThread(context.Context, int64, int64) ([]database.Message, error) {
	return nil, nil
}

func (s *memStores) GetPreviousNMessages(context.Context, int64, int64, int) ([]database.Message, error) {
	return nil, nil
}

func (s *memStores) GetUnenrichedMessages(context.Context, int64, int) ([]int64, error) {
	return nil, nil
}

func (s *memStores) UpdateMessageRaw(_ context.Context, chatID, messageID int64, raw map[string]any) error {
	if m, ok := s.messages[msgKey{chatID, messageID}]; ok {
		m.RawData = normalize.JSON(raw)
	}
	return nil
}

func (s *memStores) MarkMessageRead(_ context.Context, chatID, messageID int64) error {
	if m, ok := s.messages[msgKey{chatID, messageID}]; ok {
		m.IsRead = true
	}
	return nil
}

func (s *memStores) Get(_ context.Context, chatID int64) (*database.ChatConfig, error) {
	return s.configs[chatID], nil
}

func (s *memStores) ListAll(context.Context) ([]database.ChatConfig, error) { return nil, nil }

func (s *memStores) CreateOrUpdate(_ context.Context, cfg *database.ChatConfig) error {
	s.configs[cfg.ChatID] = cfg
	return nil
}

func (s *memStores) Delete(_ context.Context, chatID int64) error {
	delete(s.configs, chatID)
	return nil
}

func (s *memStores) SaveMedia(_ context.Context, media *database.Media) error {
	s.media[media.FileReference] = media
	return nil
}

func (s *memStores) GetMedia(_ context.Context, ref string) (*database.Media, error) {
	return s.media[ref], nil
}

type fakeClient struct {
	markReadErr   error
	markReadCalls int
	fileData      []byte
	fileMIME      string
}

func (c *fakeClient) Authorized(context.Context) (bool, error) { return true, nil }

func (c *fakeClient) History(context.Context, int64, int64, int) ([]source.Message, error) {
	return nil, source.ErrUnsupported
}

func (c *fakeClient) Dialogs(context.Context) ([]source.Dialog, error) {
	return nil, source.ErrUnsupported
}

func (c *fakeClient) Participants(context.Context, int64) ([]source.User, error) {
	return nil, source.ErrUnsupported
}

func (c *fakeClient) ChatInfo(context.Context, int64) (*source.Chat, error) { return nil, nil }

func (c *fakeClient) MarkRead(context.Context, int64, int64) error {
	c.markReadCalls++
	return c.markReadErr
}

func (c *fakeClient) DownloadFile(context.Context, string) ([]byte, string, error) {
	return c.fileData, c.fileMIME, nil
}

type fakeEnricher struct {
	calls []msgKey
	err   error
}

func (e *fakeEnricher) EnrichMessage(_ context.Context, chatID, messageID int64, _ *database.ChatConfig) error {
	e.calls = append(e.calls, msgKey{chatID, messageID})
	return e.err
}

type fakeDescriber struct {
	description string
	err         error
}

func (d *fakeDescriber) DescribeImage(context.Context, []byte, string) (string, error) {
	return d.description, d.err
}

func newTestHooks(stores *memStores, client source.Client, enricher Enricher, describer *fakeDescriber) *Hooks {
	cfg := Config{
		Stores: Stores{
			Chats:    stores,
			Users:    stores,
			Messages: stores,
			Configs:  stores,
			Media:    stores,
		},
		Client:   client,
		Enricher: enricher,
	}
	if describer != nil {
		cfg.Describer = describer
	}
	return New(cfg)
}

func newMessageEvent(chatID, messageID, senderID int64, text string) source.Event {
	sender := senderID
	return source.Event{
		Kind: source.EventNewMessage,
		Message: &source.Message{
			ID:       messageID,
			ChatID:   chatID,
			SenderID: &sender,
			Date:     time.Unix(1700000000, 0).UTC(),
			Text:     text,
			Raw:      map[string]any{"id": messageID, "message": text},
		},
		Chat:   &source.Chat{ID: chatID, Kind: "group"},
		Sender: &source.User{ID: senderID, Username: "ada"},
	}
}

func TestHandleNewMessage(t *testing.T) {
	t.Parallel()

	t.Run("configured chat persists and enriches", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true, EnrichMessages: true}
		enricher := &fakeEnricher{}
		h := newTestHooks(stores, &fakeClient{}, enricher, nil)

		h.Handle(context.Background(), newMessageEvent(42, 7, 5, "hello"))

		if stores.chats[42] == nil {
			t.Error("expected a chat row for 42")
		}
		if stores.users[5] == nil {
			t.Error("expected a user row for sender 5")
		}
		msg := stores.messages[msgKey{42, 7}]
		if msg == nil {
			t.Fatal("expected message row (42, 7)")
		}
		if msg.MessageType != "text" {
			t.Errorf("message_type = %q, want text", msg.MessageType)
		}
		if len(enricher.calls) != 1 || enricher.calls[0] != (msgKey{42, 7}) {
			t.Errorf("enricher calls = %v, want exactly (42, 7)", enricher.calls)
		}
	})

	t.Run("enrichment disabled still persists", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true}
		enricher := &fakeEnricher{}
		h := newTestHooks(stores, &fakeClient{}, enricher, nil)

		h.Handle(context.Background(), newMessageEvent(42, 7, 5, "hello"))

		if stores.messages[msgKey{42, 7}] == nil {
			t.Error("expected the message to be stored")
		}
		if len(enricher.calls) != 0 {
			t.Error("enricher must not run when the toggle is off")
		}
	})

	t.Run("unconfigured chat still persists, only enrichment stays off", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		enricher := &fakeEnricher{}
		h := newTestHooks(stores, &fakeClient{}, enricher, nil)

		h.Handle(context.Background(), newMessageEvent(42, 7, 5, "first sight"))

		if stores.chats[42] == nil {
			t.Error("the chat row must be created on first sight")
		}
		if stores.users[5] == nil {
			t.Error("the sender row must be created on first sight")
		}
		if stores.messages[msgKey{42, 7}] == nil {
			t.Error("the message must be persisted without a chat config")
		}
		if len(enricher.calls) != 0 {
			t.Error("enrichment must stay off without a chat config")
		}
	})

	t.Run("load floor does not filter live events", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		stores.configs[42] = &database.ChatConfig{
			ChatID:       42,
			SaveMessages: true,
			LoadFromDate: database.NullTime(time.Unix(1800000000, 0).UTC()),
		}
		h := newTestHooks(stores, &fakeClient{}, &fakeEnricher{}, nil)

		h.Handle(context.Background(), newMessageEvent(42, 7, 5, "older than the floor"))

		if stores.messages[msgKey{42, 7}] == nil {
			t.Error("load_from_date bounds the backfill, not the live stream")
		}
	})

	t.Run("enrichment failure does not undo persistence", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true, EnrichMessages: true}
		h := newTestHooks(stores, &fakeClient{}, &fakeEnricher{err: errors.New("model down")}, nil)

		h.Handle(context.Background(), newMessageEvent(42, 7, 5, "hello"))

		if stores.messages[msgKey{42, 7}] == nil {
			t.Error("message must survive an enrichment failure")
		}
	})

	t.Run("unsupported read acknowledgement disables itself", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true}
		client := &fakeClient{markReadErr: source.ErrUnsupported}
		h := newTestHooks(stores, client, &fakeEnricher{}, nil)

		h.Handle(context.Background(), newMessageEvent(42, 7, 5, "one"))
		h.Handle(context.Background(), newMessageEvent(42, 8, 5, "two"))

		if client.markReadCalls != 1 {
			t.Errorf("MarkRead called %d times, want 1 before disabling", client.markReadCalls)
		}
		if len(stores.messages) != 2 {
			t.Error("both messages must still be stored")
		}
	})

	t.Run("successful acknowledgement flips the read flag", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true}
		h := newTestHooks(stores, &fakeClient{}, &fakeEnricher{}, nil)

		h.Handle(context.Background(), newMessageEvent(42, 7, 5, "hello"))

		if msg := stores.messages[msgKey{42, 7}]; msg == nil || !msg.IsRead {
			t.Error("expected the stored message to be marked read")
		}
	})

	t.Run("photo recognition stores a media row", func(t *testing.T) {
		t.Parallel()

		stores := newMemStores()
		stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true, RecognizePhoto: true}
		client := &fakeClient{fileData: []byte{0xFF, 0xD8}, fileMIME: "image/jpeg"}
		h := newTestHooks(stores, client, &fakeEnricher{}, &fakeDescriber{description: "a red bicycle"})

		ev := newMessageEvent(42, 7, 5, "")
		ev.Message.MediaKind = "photo"
		ev.Message.FileRef = "file-abc"
		h.Handle(context.Background(), ev)

		media := stores.media["file-abc"]
		if media == nil {
			t.Fatal("expected a media row")
		}
		if media.TextDescription.String != "a red bicycle" {
			t.Errorf("description = %q", media.TextDescription.String)
		}
	})
}

func TestHandleEditedMessage(t *testing.T) {
	t.Parallel()

	stores := newMemStores()
	stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true}
	h := newTestHooks(stores, &fakeClient{}, &fakeEnricher{}, nil)

	h.Handle(context.Background(), newMessageEvent(42, 7, 5, "hello"))

	edit := newMessageEvent(42, 7, 5, "hello, edited")
	edit.Kind = source.EventEditedMessage
	h.Handle(context.Background(), edit)

	if got := stores.messages[msgKey{42, 7}].Text(); got != "hello, edited" {
		t.Errorf("stored text = %q, want the edited body", got)
	}

	ghost := newMessageEvent(42, 99, 5, "never stored")
	ghost.Kind = source.EventEditedMessage
	h.Handle(context.Background(), ghost)

	if stores.messages[msgKey{42, 99}] != nil {
		t.Error("an edit must not create a row for an unstored message")
	}
}

func TestHandleDeletedMessages(t *testing.T) {
	t.Parallel()

	stores := newMemStores()
	stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true}
	h := newTestHooks(stores, &fakeClient{}, &fakeEnricher{}, nil)

	h.Handle(context.Background(), newMessageEvent(42, 7, 5, "doomed"))

	del := source.Event{
		Kind:    source.EventDeletedMessages,
		Deleted: &source.DeletedBatch{ChatID: 42, MessageIDs: []int64{7, 8}},
	}
	h.Handle(context.Background(), del)
	h.Handle(context.Background(), del) // repeat delivery is harmless

	msg := stores.messages[msgKey{42, 7}]
	if msg == nil || !msg.IsDeleted {
		t.Error("expected message 7 to be soft-deleted")
	}
	if stores.messages[msgKey{42, 8}] != nil {
		t.Error("deleting an unknown id must not create a row")
	}
}

func TestHandleChatAction(t *testing.T) {
	t.Parallel()

	stores := newMemStores()
	stores.configs[42] = &database.ChatConfig{ChatID: 42, SaveMessages: true}
	h := newTestHooks(stores, &fakeClient{}, &fakeEnricher{}, nil)

	h.Handle(context.Background(), source.Event{
		Kind:   source.EventChatAction,
		Chat:   &source.Chat{ID: 42, Kind: "group", Title: "renamed"},
		Sender: &source.User{ID: 5, Username: "ada"},
	})

	if stores.chats[42] == nil || stores.users[5] == nil {
		t.Error("chat action should refresh the chat and actor rows")
	}

	h.Handle(context.Background(), source.Event{
		Kind: source.EventChatAction,
		Chat: &source.Chat{ID: 99, Kind: "group"},
	})
	if stores.chats[99] == nil {
		t.Error("an action is first sight of chat 99 and must create its row")
	}
}
