package store

import (
	"context"
	"fmt"
)

// InsertVote persists a vote row. Binding to history and aggregate upkeep
// happen in the same transaction, driven by the save pipeline.
func (s *PostgresStore) InsertVote(ctx context.Context, v Vote) (Vote, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO votes (segment_id, user_id, role, value, revoke, bound)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, date
	`, v.SegmentID, v.UserID, v.Role, v.Value, v.Revoke, v.Bound).Scan(&v.ID, &v.Date)
	if err != nil {
		return Vote{}, fmt.Errorf("insert vote: %w", err)
	}
	return v, nil
}

// BoundVotes lists the votes currently bound to a live segment.
func (s *PostgresStore) BoundVotes(ctx context.Context, segmentID int64) ([]Vote, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, segment_id, user_id, role, value, revoke, bound, date
		FROM votes
		WHERE segment_id=$1 AND bound
		ORDER BY id ASC
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list bound votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ID, &v.SegmentID, &v.UserID, &v.Role, &v.Value,
			&v.Revoke, &v.Bound, &v.Date); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

// UnbindVotes detaches every vote from the live segment. Historical
// bindings stay in place.
func (s *PostgresStore) UnbindVotes(ctx context.Context, segmentID int64) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE votes SET bound=FALSE WHERE segment_id=$1 AND bound
	`, segmentID)
	if err != nil {
		return fmt.Errorf("unbind votes: %w", err)
	}
	return nil
}

// UnbindUserVotes detaches one user's bound votes in a role, the effect of
// a revocation.
func (s *PostgresStore) UnbindUserVotes(ctx context.Context, segmentID, userID int64, role string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE votes SET bound=FALSE
		WHERE segment_id=$1 AND user_id=$2 AND role=$3 AND bound AND NOT revoke
	`, segmentID, userID, role)
	if err != nil {
		return fmt.Errorf("unbind user votes: %w", err)
	}
	return nil
}

// BindVoteToHistory links a vote to a snapshot it applies to. Binding the
// same pair twice is a no-op.
func (s *PostgresStore) BindVoteToHistory(ctx context.Context, voteID, historyID int64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO vote_histories (vote_id, history_id)
		VALUES ($1, $2)
		ON CONFLICT (vote_id, history_id) DO NOTHING
	`, voteID, historyID)
	if err != nil {
		return fmt.Errorf("bind vote to history: %w", err)
	}
	return nil
}

// HistoriesForVote lists the snapshot ids a vote is bound to.
func (s *PostgresStore) HistoriesForVote(ctx context.Context, voteID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT history_id FROM vote_histories WHERE vote_id=$1 ORDER BY history_id ASC
	`, voteID)
	if err != nil {
		return nil, fmt.Errorf("list vote histories: %w", err)
	}
	defer rows.Close()

	items := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vote history: %w", err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vote histories: %w", err)
	}
	return items, nil
}

// UpdateVoteAggregates stores the derived signed sums on the segment, in
// the same transaction as the vote rows that changed them.
func (s *PostgresStore) UpdateVoteAggregates(ctx context.Context, segmentID int64, translators, reviewers, trustees int) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE translated_segments
		SET translators_vote=$2, reviewers_vote=$3, trustees_vote=$4
		WHERE id=$1
	`, segmentID, translators, reviewers, trustees)
	if err != nil {
		return fmt.Errorf("update vote aggregates: %w", err)
	}
	return nil
}
