package store

import (
	"context"
	"fmt"
	"time"
)

const commentColumns = `id, kind, segment_id, author_id, content, to_delete, created_at, updated_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.Kind, &c.SegmentID, &c.AuthorID, &c.Content,
		&c.ToDelete, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO comments (kind, segment_id, author_id, content, to_delete)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+commentColumns,
		c.Kind, c.SegmentID, c.AuthorID, c.Content, c.ToDelete,
	).Scan(&c.ID, &c.Kind, &c.SegmentID, &c.AuthorID, &c.Content,
		&c.ToDelete, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CommentByID(ctx context.Context, id int64) (Comment, error) {
	c, err := scanComment(s.q.QueryRowContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE id=$1
	`, id))
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CommentsForSegment(ctx context.Context, segmentID int64) ([]Comment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE segment_id=$1
		ORDER BY created_at ASC, id ASC
	`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, id int64, content string) (Comment, error) {
	c, err := scanComment(s.q.QueryRowContext(ctx, `
		UPDATE comments SET content=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+commentColumns,
		id, content))
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return c, nil
}

// SetCommentDeletion sets or clears the deletion deadline. A nil deadline
// cancels the pending deletion.
func (s *PostgresStore) SetCommentDeletion(ctx context.Context, id int64, toDelete *time.Time) (Comment, error) {
	c, err := scanComment(s.q.QueryRowContext(ctx, `
		UPDATE comments SET to_delete=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+commentColumns,
		id, toDelete))
	if err != nil {
		return Comment{}, fmt.Errorf("set comment deletion: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// NextCommentExpiry returns the earliest pending deletion deadline of a kind,
// or nil when none is scheduled.
func (s *PostgresStore) NextCommentExpiry(ctx context.Context, kind string) (*time.Time, error) {
	var next *time.Time
	err := s.q.QueryRowContext(ctx, `
		SELECT MIN(to_delete) FROM comments WHERE kind=$1 AND to_delete IS NOT NULL
	`, kind).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next comment expiry: %w", err)
	}
	return next, nil
}

// DeleteExpiredComments removes comments of a kind whose deadline has passed.
// Rerunning after a completed sweep deletes nothing.
func (s *PostgresStore) DeleteExpiredComments(ctx context.Context, kind string, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM comments WHERE kind=$1 AND to_delete IS NOT NULL AND to_delete <= $2
	`, kind, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired comments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired comments: rows affected: %w", err)
	}
	return n, nil
}
