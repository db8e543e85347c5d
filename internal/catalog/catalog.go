package catalog

import (
	"database/sql"
	"fmt"
	"time"
)

// Channel identifies one monitored device or sensor endpoint.
// Non-operational channels are excluded from all alerting.
type Channel struct {
	ChannelID     string    `json:"channel_id"`
	Name          string    `json:"name"`
	IsOperational bool      `json:"is_operational"`
	MinThreshold  *float64  `json:"min_threshold,omitempty"`
	MaxThreshold  *float64  `json:"max_threshold,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasThresholds reports whether temperature alerting applies to the channel.
func (c Channel) HasThresholds() bool {
	return c.MinThreshold != nil && c.MaxThreshold != nil
}

// Store is the persisted device catalog.
type Store struct {
	db *sql.DB
}

// NewStore wraps the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert creates the channel on first sighting or refreshes its metadata.
// Channels are never hard-deleted.
func (s *Store) Upsert(ch Channel) error {
	query := `
		INSERT INTO channels (channel_id, name, is_operational, min_threshold, max_threshold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			name = excluded.name,
			is_operational = excluded.is_operational,
			min_threshold = excluded.min_threshold,
			max_threshold = excluded.max_threshold,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.Exec(query,
		ch.ChannelID, ch.Name, ch.IsOperational,
		nullableFloat(ch.MinThreshold), nullableFloat(ch.MaxThreshold))
	if err != nil {
		return fmt.Errorf("failed to upsert channel %s: %w", ch.ChannelID, err)
	}
	return nil
}

// EnsureExists registers a channel seen by a collector for the first time.
// Existing rows are left untouched.
func (s *Store) EnsureExists(channelID, name string) error {
	query := `
		INSERT INTO channels (channel_id, name)
		VALUES (?, ?)
		ON CONFLICT(channel_id) DO NOTHING
	`
	if _, err := s.db.Exec(query, channelID, name); err != nil {
		return fmt.Errorf("failed to register channel %s: %w", channelID, err)
	}
	return nil
}

// Get retrieves a channel's metadata. Returns nil when unknown.
func (s *Store) Get(channelID string) (*Channel, error) {
	query := `
		SELECT channel_id, name, is_operational, min_threshold, max_threshold,
		       created_at, updated_at
		FROM channels
		WHERE channel_id = ?
	`
	var (
		ch       Channel
		min, max sql.NullFloat64
	)
	err := s.db.QueryRow(query, channelID).Scan(
		&ch.ChannelID, &ch.Name, &ch.IsOperational, &min, &max,
		&ch.CreatedAt, &ch.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	if min.Valid {
		ch.MinThreshold = &min.Float64
	}
	if max.Valid {
		ch.MaxThreshold = &max.Float64
	}
	return &ch, nil
}

// SetOperational toggles whether the channel participates in alerting.
func (s *Store) SetOperational(channelID string, operational bool) error {
	result, err := s.db.Exec(`
		UPDATE channels
		SET is_operational = ?, updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ?
	`, operational, channelID)
	if err != nil {
		return fmt.Errorf("failed to update channel %s: %w", channelID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("channel not found")
	}
	return nil
}

// List returns all channels ordered by id.
func (s *Store) List() ([]Channel, error) {
	rows, err := s.db.Query(`
		SELECT channel_id, name, is_operational, min_threshold, max_threshold,
		       created_at, updated_at
		FROM channels
		ORDER BY channel_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var (
			ch       Channel
			min, max sql.NullFloat64
		)
		if err := rows.Scan(&ch.ChannelID, &ch.Name, &ch.IsOperational,
			&min, &max, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			continue
		}
		if min.Valid {
			ch.MinThreshold = &min.Float64
		}
		if max.Valid {
			ch.MaxThreshold = &max.Float64
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}
