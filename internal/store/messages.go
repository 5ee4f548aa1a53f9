package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wesm/tagmail/internal/tagset"
)

// Canonical header names. Headers maps use these spellings as keys.
const (
	HeaderFrom       = "From"
	HeaderTo         = "To"
	HeaderCc         = "Cc"
	HeaderBcc        = "Bcc"
	HeaderReplyTo    = "Reply-To"
	HeaderSender     = "Sender"
	HeaderSubject    = "Subject"
	HeaderDate       = "Date"
	HeaderMessageID  = "Message-ID"
	HeaderInReplyTo  = "In-Reply-To"
	HeaderReferences = "References"
)

// Message is a stored mail record. Headers and body are immutable once
// ingested; only Tags change.
type Message struct {
	ID          string            `json:"id"`
	Headers     map[string]string `json:"headers"`
	Date        time.Time         `json:"date"`
	Body        Body              `json:"body"`
	Attachments []AttachmentRef   `json:"attachments"`
	Tags        tagset.Set        `json:"tags"`
}

// Body holds the textual parts of a message.
type Body struct {
	Text string `json:"text"`
	HTML string `json:"html,omitempty"`
}

// AttachmentRef points at attachment content without carrying it. Handle is
// the content hash under the attachments directory.
type AttachmentRef struct {
	Handle      string `json:"handle"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Summary is the listing view of a message.
type Summary struct {
	ID              string    `json:"id"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Subject         string    `json:"subject"`
	Date            time.Time `json:"date"`
	Tags            []string  `json:"tags"`
	AttachmentCount int       `json:"attachment_count"`
}

// Header returns the value of the named header, matching case-insensitively.
func (m *Message) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Summary projects the message onto its listing view.
func (m *Message) Summary() Summary {
	return Summary{
		ID:              m.ID,
		From:            m.Header(HeaderFrom),
		To:              m.Header(HeaderTo),
		Subject:         m.Header(HeaderSubject),
		Date:            m.Date,
		Tags:            m.Tags.Sorted(),
		AttachmentCount: len(m.Attachments),
	}
}

// Clone returns a deep copy, so callers can hand records across the engine
// lock boundary.
func (m *Message) Clone() *Message {
	c := *m
	c.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		c.Headers[k] = v
	}
	c.Attachments = append([]AttachmentRef(nil), m.Attachments...)
	c.Tags = m.Tags.Clone()
	return &c
}

// TagUpdate replaces the tag set of one message.
type TagUpdate struct {
	ID   string
	Tags tagset.Set
}

func unixOrNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timeFromNull(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}

// InsertMessage persists a new message with its headers, attachment refs and
// tags. It fails with *DuplicateMessageError if the ID is already stored.
func (s *Store) InsertMessage(msg *Message) error {
	if msg.ID == "" {
		return fmt.Errorf("insert message: empty id")
	}
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO messages (id, sent_at, body_text, body_html) VALUES (?, ?, ?, ?)`,
			msg.ID, unixOrNull(msg.Date), msg.Body.Text, msg.Body.HTML)
		if err != nil {
			if isConstraintError(err) {
				return &DuplicateMessageError{ID: msg.ID}
			}
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}

		for name, value := range msg.Headers {
			if _, err := tx.Exec(`INSERT INTO message_headers (message_id, name, value) VALUES (?, ?, ?)`,
				msg.ID, name, value); err != nil {
				return fmt.Errorf("insert header %s: %w", name, err)
			}
		}

		for i, att := range msg.Attachments {
			if _, err := tx.Exec(`
				INSERT INTO attachments (message_id, position, handle, filename, content_type, size)
				VALUES (?, ?, ?, ?, ?, ?)`,
				msg.ID, i, att.Handle, att.Filename, att.ContentType, att.Size); err != nil {
				return fmt.Errorf("insert attachment %d: %w", i, err)
			}
		}

		return insertTags(tx, msg.ID, msg.Tags)
	})
}

func insertTags(tx *sql.Tx, id string, tags tagset.Set) error {
	for _, tag := range tags.Sorted() {
		if _, err := tx.Exec(`INSERT INTO message_tags (message_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return fmt.Errorf("insert tag %s: %w", tag, err)
		}
	}
	return nil
}

// DeleteMessage removes a message and everything hanging off it.
func (s *Store) DeleteMessage(id string) error {
	result, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// UpdateTags replaces the tag sets of all given messages in one transaction.
// Either every update lands or none does.
func (s *Store) UpdateTags(updates []TagUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withTx(func(tx *sql.Tx) error {
		for _, u := range updates {
			result, err := tx.Exec(`UPDATE messages SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, u.ID)
			if err != nil {
				return fmt.Errorf("touch message %s: %w", u.ID, err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return &NotFoundError{ID: u.ID}
			}
			if _, err := tx.Exec(`DELETE FROM message_tags WHERE message_id = ?`, u.ID); err != nil {
				return fmt.Errorf("clear tags %s: %w", u.ID, err)
			}
			if err := insertTags(tx, u.ID, u.Tags); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessage loads the full record for id.
func (s *Store) GetMessage(id string) (*Message, error) {
	msgs, err := s.loadMessages([]string{id})
	if err != nil {
		return nil, err
	}
	msg, ok := msgs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return msg, nil
}

// GetSummaries returns summaries for ids in the same order. Unknown ids fail
// with *NotFoundError.
func (s *Store) GetSummaries(ids []string) ([]Summary, error) {
	msgs, err := s.loadMessages(ids)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		msg, ok := msgs[id]
		if !ok {
			return nil, &NotFoundError{ID: id}
		}
		out = append(out, msg.Summary())
	}
	return out, nil
}

// Scan calls fn for every stored message, ordered by id. It is used to
// rebuild derived indexes at startup.
func (s *Store) Scan(fn func(*Message) error) error {
	rows, err := s.db.Query(`SELECT id FROM messages ORDER BY id`)
	if err != nil {
		return fmt.Errorf("scan message ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	const batch = 1000
	for i := 0; i < len(ids); i += batch {
		chunk := ids[i:min(i+batch, len(ids))]
		msgs, err := s.loadMessages(chunk)
		if err != nil {
			return err
		}
		for _, id := range chunk {
			if msg, ok := msgs[id]; ok {
				if err := fn(msg); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// loadMessages fetches full records for ids, keyed by id. Missing ids are
// simply absent from the result.
func (s *Store) loadMessages(ids []string) (map[string]*Message, error) {
	msgs := make(map[string]*Message, len(ids))
	if len(ids) == 0 {
		return msgs, nil
	}

	err := queryInChunks(s.db, ids,
		`SELECT id, sent_at, body_text, body_html FROM messages WHERE id IN (%s)`,
		func(rows *sql.Rows) error {
			var m Message
			var sentAt sql.NullInt64
			if err := rows.Scan(&m.ID, &sentAt, &m.Body.Text, &m.Body.HTML); err != nil {
				return err
			}
			m.Date = timeFromNull(sentAt)
			m.Headers = make(map[string]string)
			m.Tags = tagset.New()
			msgs[m.ID] = &m
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	err = queryInChunks(s.db, ids,
		`SELECT message_id, name, value FROM message_headers WHERE message_id IN (%s)`,
		func(rows *sql.Rows) error {
			var id, name, value string
			if err := rows.Scan(&id, &name, &value); err != nil {
				return err
			}
			if m, ok := msgs[id]; ok {
				m.Headers[name] = value
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load headers: %w", err)
	}

	err = queryInChunks(s.db, ids,
		`SELECT message_id, tag FROM message_tags WHERE message_id IN (%s)`,
		func(rows *sql.Rows) error {
			var id, tag string
			if err := rows.Scan(&id, &tag); err != nil {
				return err
			}
			if m, ok := msgs[id]; ok {
				m.Tags.Add(tag)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}

	type positioned struct {
		pos int
		ref AttachmentRef
	}
	atts := make(map[string][]positioned)
	err = queryInChunks(s.db, ids,
		`SELECT message_id, position, handle, filename, content_type, size FROM attachments WHERE message_id IN (%s)`,
		func(rows *sql.Rows) error {
			var id string
			var p positioned
			if err := rows.Scan(&id, &p.pos, &p.ref.Handle, &p.ref.Filename, &p.ref.ContentType, &p.ref.Size); err != nil {
				return err
			}
			atts[id] = append(atts[id], p)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	for id, list := range atts {
		m, ok := msgs[id]
		if !ok {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i].pos < list[j].pos })
		for _, p := range list {
			m.Attachments = append(m.Attachments, p.ref)
		}
	}

	return msgs, nil
}
