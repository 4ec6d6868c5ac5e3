package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dayline/app/core/checklist"
)

// ErrNotFound is returned when no record exists for a chat.
var ErrNotFound = errors.New("record not found")

// Records is the durable per-chat record store.
type Records struct {
	db *sql.DB
}

func NewRecords(db *DB) *Records {
	return &Records{db: db.Conn()}
}

// Get loads and decodes the record for chatID. Absent optional fields in
// old payloads are normalized to their defaults.
func (r *Records) Get(chatID int64) (*checklist.UserRecord, error) {
	var payload string
	err := r.db.QueryRow(`SELECT payload FROM user_records WHERE chat_id = ?`, chatID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record chat_id=%d: %w", chatID, err)
	}

	var rec checklist.UserRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode record chat_id=%d: %w", chatID, err)
	}
	rec.ChatID = chatID
	rec.Normalize()
	return &rec, nil
}

// Put upserts the record for its chat id.
func (r *Records) Put(rec *checklist.UserRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record chat_id=%d: %w", rec.ChatID, err)
	}

	_, err = r.db.Exec(`
INSERT INTO user_records (chat_id, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(chat_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		rec.ChatID, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put record chat_id=%d: %w", rec.ChatID, err)
	}
	return nil
}

// Delete removes the record for chatID. Deleting an absent record is not
// an error.
func (r *Records) Delete(chatID int64) error {
	if _, err := r.db.Exec(`DELETE FROM user_records WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete record chat_id=%d: %w", chatID, err)
	}
	return nil
}

// ChatIDs lists every known chat id.
func (r *Records) ChatIDs() ([]int64, error) {
	rows, err := r.db.Query(`SELECT chat_id FROM user_records ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list chat ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat ids: %w", err)
	}
	return ids, nil
}

// DeleteAll wipes every record. Used by the cleanup maintenance command.
func (r *Records) DeleteAll() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM user_records`)
	if err != nil {
		return 0, fmt.Errorf("delete all records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
