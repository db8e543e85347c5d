package notify

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleetalert/internal/alert"
)

// Record is one row of dispatch_history: the outcome of one transport's
// attempt at one batch.
type Record struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id"`
	WindowStart    time.Time `json:"window_start"`
	Kind           string    `json:"kind"`
	Transport      string    `json:"transport"`
	RecipientCount int       `json:"recipient_count"`
	SentCount      int       `json:"sent_count"`
	FailedCount    int       `json:"failed_count"`
	Reason         string    `json:"reason,omitempty"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// History persists per-transport dispatch outcomes for operator review.
type History struct {
	db *sql.DB
}

// NewHistory wraps the given database. A nil database disables recording.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record stores one dispatch outcome.
func (h *History) Record(b alert.Batch, res alert.DispatchResult, message string) (string, error) {
	if h.db == nil {
		return "", nil
	}

	id := uuid.NewString()
	_, err := h.db.Exec(`
		INSERT INTO dispatch_history
			(id, channel_id, window_start, kind, transport,
			 recipient_count, sent_count, failed_count, reason, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, b.ChannelID, b.Window.UTC(), string(Class(b)), res.Transport,
		res.RecipientCount, res.SentCount, res.FailedCount,
		nullableString(string(res.Reason)), message)
	if err != nil {
		return "", fmt.Errorf("failed to record dispatch: %w", err)
	}
	return id, nil
}

// Recent returns the newest dispatch records.
func (h *History) Recent(limit int) ([]Record, error) {
	if h.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.Query(`
		SELECT id, channel_id, window_start, kind, transport,
		       recipient_count, sent_count, failed_count,
		       COALESCE(reason, ''), message, created_at
		FROM dispatch_history
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.ChannelID, &r.WindowStart, &r.Kind,
			&r.Transport, &r.RecipientCount, &r.SentCount, &r.FailedCount,
			&r.Reason, &r.Message, &r.CreatedAt); err != nil {
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Cleanup removes records older than the retention period.
func (h *History) Cleanup(retention time.Duration) (int64, error) {
	if h.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC()
	result, err := h.db.Exec(`DELETE FROM dispatch_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup history: %w", err)
	}
	return result.RowsAffected()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
