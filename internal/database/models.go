package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/pgvector/pgvector-go"
)

// Chat is one stored conversation. One row per source chat id; every save is
// a last-write-wins merge.
type Chat struct {
	ID          int64          `db:"id"`
	ChatType    string         `db:"chat_type"`
	Title       sql.NullString `db:"title"`
	Username    sql.NullString `db:"username"`
	IsVerified  bool           `db:"is_verified"`
	IsScam      bool           `db:"is_scam"`
	IsFake      bool           `db:"is_fake"`
	MemberCount sql.NullInt32  `db:"member_count"`
	RawData     types.JSONText `db:"raw_data"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// User is one stored account, created whenever seen as a sender, dialog
// counterpart, or chat participant.
type User struct {
	ID         int64          `db:"id"`
	Username   sql.NullString `db:"username"`
	FirstName  sql.NullString `db:"first_name"`
	LastName   sql.NullString `db:"last_name"`
	IsBot      bool           `db:"is_bot"`
	IsVerified bool           `db:"is_verified"`
	IsScam     bool           `db:"is_scam"`
	IsFake     bool           `db:"is_fake"`
	IsPremium  bool           `db:"is_premium"`
	RawData    types.JSONText `db:"raw_data"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// DisplayName resolves how a user is rendered in enrichment prompts:
// username first, then "first last", then empty (the caller substitutes a
// generic placeholder).
func (u *User) DisplayName() string {
	if u.Username.Valid && u.Username.String != "" {
		return u.Username.String
	}
	first := ""
	last := ""
	if u.FirstName.Valid {
		first = u.FirstName.String
	}
	if u.LastName.Valid {
		last = u.LastName.String
	}
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	}
	return ""
}

// Message is one stored message. The primary key is composite: message ids
// are only unique within a chat.
type Message struct {
	MessageID   int64          `db:"message_id"`
	ChatID      int64          `db:"chat_id"`
	SenderID    sql.NullInt64  `db:"sender_id"`
	Date        time.Time      `db:"date"`
	MessageType string         `db:"message_type"`
	IsRead      bool           `db:"is_read"`
	IsDeleted   bool           `db:"is_deleted"`
	RawData     types.JSONText `db:"raw_data"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Raw unmarshals the stored snapshot. A corrupt snapshot yields an empty map;
// callers treat missing fields as absent, never as errors.
func (m *Message) Raw() map[string]any {
	var raw map[string]any
	if err := json.Unmarshal(m.RawData, &raw); err != nil {
		return map[string]any{}
	}
	return raw
}

// Text returns the message body from the raw snapshot.
func (m *Message) Text() string {
	if s, ok := m.Raw()["message"].(string); ok {
		return s
	}
	return ""
}

// ReplyToID returns the id of the message this one replies to, if any.
func (m *Message) ReplyToID() (int64, bool) {
	reply, ok := m.Raw()["reply_to"].(map[string]any)
	if !ok {
		return 0, false
	}
	id, ok := reply["reply_to_msg_id"].(float64)
	if !ok {
		return 0, false
	}
	return int64(id), true
}

// EnrichedMessage is the derived 1:1 companion of a message: a narrative
// context summary, the semantic meaning, and an embedding vector.
type EnrichedMessage struct {
	ChatID     int64           `db:"chat_id"`
	MessageID  int64           `db:"message_id"`
	Context    sql.NullString  `db:"context"`
	Meaning    sql.NullString  `db:"meaning"`
	Embeddings pgvector.Vector `db:"embeddings"`
}

// ChatConfig controls what the pipeline does for one chat. No row (or a
// false toggle) means "do nothing for this chat".
type ChatConfig struct {
	ChatID          int64           `db:"chat_id"`
	SaveMessages    bool            `db:"save_messages"`
	EnrichMessages  bool            `db:"enrich_messages"`
	RecognizePhoto  bool            `db:"recognize_photo"`
	LoadFromDate    sql.NullTime    `db:"load_from_date"`
	SystemPrompt    sql.NullString  `db:"system_prompt"`
	AnswerThreshold sql.NullFloat64 `db:"answer_threshold"`
}

// Media is one recognized attachment, keyed by the source content reference.
type Media struct {
	FileReference   string         `db:"file_reference"`
	ChatID          int64          `db:"chat_id"`
	MessageID       int64          `db:"message_id"`
	MediaType       string         `db:"media_type"`
	TextDescription sql.NullString `db:"text_description"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}
