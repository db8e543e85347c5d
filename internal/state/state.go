package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fleetalert/internal/alert"
)

// ConnectionState is the persisted per-channel connectivity record. The
// incident anchor survives process restarts so repeat-alert suppression
// does too.
//
// Invariant: OutOfRangeSince is non-nil iff IsCurrentlyOutOfRange.
type ConnectionState struct {
	ChannelID             string     `json:"channel_id"`
	IsCurrentlyOutOfRange bool       `json:"is_currently_out_of_range"`
	OutOfRangeSince       *time.Time `json:"out_of_range_since,omitempty"`
	LastAlertSent         *time.Time `json:"last_alert_sent,omitempty"`
}

// Store persists connection state and owns the transition logic. All
// mutations go through Apply or the alert-marker helpers.
type Store struct {
	db *sql.DB
}

// NewStore wraps the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the channel's state, zero-valued when never reported.
func (s *Store) Get(channelID string) (ConnectionState, error) {
	st := ConnectionState{ChannelID: channelID}

	var (
		since, lastSent sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT is_currently_out_of_range, out_of_range_since, last_alert_sent
		FROM connection_state
		WHERE channel_id = ?
	`, channelID).Scan(&st.IsCurrentlyOutOfRange, &since, &lastSent)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load state for %s: %w", channelID, err)
	}
	if since.Valid {
		t := since.Time
		st.OutOfRangeSince = &t
	}
	if lastSent.Valid {
		t := lastSent.Time
		st.LastAlertSent = &t
	}
	return st, nil
}

// Apply records a connection report and returns the alert event for the
// transition, if any.
//
// Non-operational channels keep their physical state accurate but never
// produce events and never touch the alert marker.
func (s *Store) Apply(channelID string, onlineNow, operational bool, now time.Time) (*alert.Event, error) {
	st, err := s.Get(channelID)
	if err != nil {
		return nil, err
	}

	wasOffline := st.IsCurrentlyOutOfRange

	switch {
	case wasOffline && onlineNow:
		// Reconnected. The event anchors on when the incident began.
		anchor := st.OutOfRangeSince
		if err := s.save(channelID, false, nil, st.LastAlertSent); err != nil {
			return nil, err
		}
		if !operational {
			return nil, nil
		}
		return &alert.Event{
			ChannelID:    channelID,
			Kind:         alert.KindConnected,
			Timestamp:    now,
			OfflineSince: anchor,
		}, nil

	case !wasOffline && !onlineNow:
		// Went offline: a new incident starts now.
		since := now
		if err := s.save(channelID, true, &since, st.LastAlertSent); err != nil {
			return nil, err
		}
		if !operational {
			return nil, nil
		}
		return &alert.Event{
			ChannelID:    channelID,
			Kind:         alert.KindDisconnected,
			Timestamp:    now,
			OfflineSince: &since,
		}, nil

	default:
		// No transition. Still make sure a row exists for the channel.
		if err := s.save(channelID, st.IsCurrentlyOutOfRange, st.OutOfRangeSince, st.LastAlertSent); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// AlreadyAlerted reports whether an alert for the channel's current
// incident was already delivered: last_alert_sent is set and is not older
// than out_of_range_since.
func (s *Store) AlreadyAlerted(channelID string) (bool, error) {
	st, err := s.Get(channelID)
	if err != nil {
		return false, err
	}
	if st.LastAlertSent == nil || st.OutOfRangeSince == nil {
		return false, nil
	}
	return !st.LastAlertSent.Before(*st.OutOfRangeSince), nil
}

// MarkAlertSent stamps the dedup marker after a delivered disconnection
// alert.
func (s *Store) MarkAlertSent(channelID string, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE connection_state
		SET last_alert_sent = ?, updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ?
	`, now.UTC(), channelID)
	if err != nil {
		return fmt.Errorf("failed to mark alert sent for %s: %w", channelID, err)
	}
	return nil
}

// ClearAlertSent closes the incident's dedup window once the reconnection
// has been reported.
func (s *Store) ClearAlertSent(channelID string) error {
	_, err := s.db.Exec(`
		UPDATE connection_state
		SET last_alert_sent = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE channel_id = ?
	`, channelID)
	if err != nil {
		return fmt.Errorf("failed to clear alert marker for %s: %w", channelID, err)
	}
	return nil
}

func (s *Store) save(channelID string, outOfRange bool, since, lastSent *time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO connection_state (channel_id, is_currently_out_of_range, out_of_range_since, last_alert_sent)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			is_currently_out_of_range = excluded.is_currently_out_of_range,
			out_of_range_since = excluded.out_of_range_since,
			last_alert_sent = excluded.last_alert_sent,
			updated_at = CURRENT_TIMESTAMP
	`, channelID, outOfRange, nullableTime(since), nullableTime(lastSent))
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", channelID, err)
	}
	logrus.WithFields(logrus.Fields{
		"channel":      channelID,
		"out_of_range": outOfRange,
	}).Debug("connection state saved")
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
