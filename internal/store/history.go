package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const historyColumns = `
	id, segment_id, relative_id, history_date, history_user_id, history_type,
	history_change_reason, content, tag, classes, reference, page, progress`

func scanHistory(row interface{ Scan(...any) error }) (HistoricalSegment, error) {
	var h HistoricalSegment
	err := row.Scan(&h.ID, &h.SegmentID, &h.RelativeID, &h.HistoryDate, &h.HistoryUserID,
		&h.HistoryType, &h.HistoryChangeReason, &h.Content, &h.Tag, &h.Classes,
		&h.Reference, &h.Page, &h.Progress)
	return h, err
}

// InsertHistory snapshots a segment. The relative id is assigned here, once,
// as max+1 for the segment; callers must hold the segment's row lock so two
// snapshots cannot race. It is never rewritten afterwards.
func (s *PostgresStore) InsertHistory(ctx context.Context, h HistoricalSegment) (HistoricalSegment, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO historical_segments
			(segment_id, relative_id, history_user_id, history_type, history_change_reason,
			 content, tag, classes, reference, page, progress)
		SELECT $1, COALESCE(MAX(relative_id), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		FROM historical_segments
		WHERE segment_id=$1
		RETURNING `+historyColumns,
		h.SegmentID, h.HistoryUserID, h.HistoryType, h.HistoryChangeReason,
		h.Content, h.Tag, h.Classes, h.Reference, h.Page, h.Progress,
	).Scan(&h.ID, &h.SegmentID, &h.RelativeID, &h.HistoryDate, &h.HistoryUserID,
		&h.HistoryType, &h.HistoryChangeReason, &h.Content, &h.Tag, &h.Classes,
		&h.Reference, &h.Page, &h.Progress)
	if err != nil {
		return HistoricalSegment{}, fmt.Errorf("insert history: %w", err)
	}
	return h, nil
}

// LatestHistory returns the newest snapshot of a segment, or sql.ErrNoRows
// for a segment that was never snapshotted.
func (s *PostgresStore) LatestHistory(ctx context.Context, segmentID int64) (HistoricalSegment, error) {
	return scanHistory(s.q.QueryRowContext(ctx, `
		SELECT `+historyColumns+`
		FROM historical_segments
		WHERE segment_id=$1
		ORDER BY relative_id DESC
		LIMIT 1
	`, segmentID))
}

func (s *PostgresStore) HistoryForSegment(ctx context.Context, segmentID int64) ([]HistoricalSegment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM historical_segments
		WHERE segment_id=$1
		ORDER BY relative_id ASC
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]HistoricalSegment, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

// UpdateHistoryChangeReason amends the free-text reason of a snapshot. The
// relative id and the snapshot body stay untouched.
func (s *PostgresStore) UpdateHistoryChangeReason(ctx context.Context, historyID int64, reason string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE historical_segments SET history_change_reason=$2 WHERE id=$1
	`, historyID, reason)
	if err != nil {
		return fmt.Errorf("update history change reason: %w", err)
	}
	return nil
}

func (s *PostgresStore) HistoryByID(ctx context.Context, historyID int64) (HistoricalSegment, error) {
	return scanHistory(s.q.QueryRowContext(ctx, `
		SELECT `+historyColumns+` FROM historical_segments WHERE id=$1
	`, historyID))
}

// HistoryCount is the number of snapshots a segment has accumulated.
func (s *PostgresStore) HistoryCount(ctx context.Context, segmentID int64) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM historical_segments WHERE segment_id=$1
	`, segmentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return count, nil
}

// ContributorCount is the number of distinct users that appear in the
// history of a translated work's segments.
func (s *PostgresStore) ContributorCount(ctx context.Context, workID int64) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT hs.history_user_id)
		FROM historical_segments hs
		JOIN translated_segments ts ON ts.id = hs.segment_id
		WHERE ts.work_id=$1 AND hs.history_user_id IS NOT NULL
	`, workID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count contributors: %w", err)
	}
	return count, nil
}

// VerifyRelativeIDs checks the per-segment monotonicity invariant: the nth
// snapshot of a segment carries relative id n. A mismatch is a consistency
// violation.
func (s *PostgresStore) VerifyRelativeIDs(ctx context.Context, segmentID int64) error {
	rows, err := s.q.QueryContext(ctx, `
		SELECT relative_id FROM historical_segments
		WHERE segment_id=$1 ORDER BY history_date ASC, relative_id ASC
	`, segmentID)
	if err != nil {
		return fmt.Errorf("verify relative ids: %w", err)
	}
	defer rows.Close()

	expected := 1
	for rows.Next() {
		var relative int
		if err := rows.Scan(&relative); err != nil {
			return fmt.Errorf("scan relative id: %w", err)
		}
		if relative != expected {
			return fmt.Errorf("%w: segment %d snapshot %d has relative_id %d",
				ErrConsistency, segmentID, expected, relative)
		}
		expected++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate relative ids: %w", err)
	}
	return nil
}

// IsNoRows reports whether err is the store's not-found condition.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
