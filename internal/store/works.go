package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *PostgresStore) EnsureUser(ctx context.Context, username string) (User, error) {
	return s.ensureUser(ctx, username, false)
}

// EnsureAIUser returns the system user machine translations are credited
// to, creating it on first use.
func (s *PostgresStore) EnsureAIUser(ctx context.Context, username string) (User, error) {
	return s.ensureUser(ctx, username, true)
}

func (s *PostgresStore) ensureUser(ctx context.Context, username string, ai bool) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, username, is_active, is_ai FROM users WHERE username=$1
	`, username).Scan(&user.ID, &user.Username, &user.IsActive, &user.IsAI)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO users (username, is_ai) VALUES ($1, $2)
		RETURNING id, username, is_active, is_ai
	`, username, ai).Scan(&user.ID, &user.Username, &user.IsActive, &user.IsAI)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, username, is_active, is_ai FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.IsActive, &user.IsAI)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ReputationScore returns a user's score in a language; users without a
// reputation row score zero.
func (s *PostgresStore) ReputationScore(ctx context.Context, userID int64, language string) (int, error) {
	var score int
	err := s.q.QueryRowContext(ctx, `
		SELECT score FROM reputations WHERE user_id=$1 AND language=$2
	`, userID, language).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read reputation: %w", err)
	}
	return score, nil
}

func (s *PostgresStore) SetReputation(ctx context.Context, userID int64, language string, score int) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reputations (user_id, language, score)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, language) DO UPDATE SET score=EXCLUDED.score
	`, userID, language, score)
	if err != nil {
		return fmt.Errorf("set reputation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reputations(ctx context.Context, userID int64) ([]Reputation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT user_id, language, score FROM reputations WHERE user_id=$1 ORDER BY language ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reputations: %w", err)
	}
	defer rows.Close()

	items := make([]Reputation, 0)
	for rows.Next() {
		var item Reputation
		if err := rows.Scan(&item.UserID, &item.Language, &item.Score); err != nil {
			return nil, fmt.Errorf("scan reputation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reputations: %w", err)
	}
	return items, nil
}

// InsertOriginalWork persists a source work together with its ordered
// segment sequence.
func (s *PostgresStore) InsertOriginalWork(ctx context.Context, work OriginalWork, segments []OriginalSegment) (OriginalWork, error) {
	err := s.InTransaction(ctx, func(tx *PostgresStore) error {
		err := tx.q.QueryRowContext(ctx, `
			INSERT INTO original_works (key, title, language, type, licence, author, trustee_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at
		`, work.Key, work.Title, work.Language, work.Type, work.Licence, work.Author, work.TrusteeID).
			Scan(&work.ID, &work.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert original work: %w", err)
		}
		for _, seg := range segments {
			if _, err := tx.q.ExecContext(ctx, `
				INSERT INTO original_segments (work_id, position, page, tag, classes, content, reference)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, work.ID, seg.Position, seg.Page, seg.Tag, seg.Classes, seg.Content, seg.Reference); err != nil {
				return fmt.Errorf("insert original segment %d: %w", seg.Position, err)
			}
		}
		return nil
	})
	if err != nil {
		return OriginalWork{}, err
	}
	return work, nil
}

func (s *PostgresStore) OriginalWorkByKey(ctx context.Context, key string) (OriginalWork, error) {
	return s.originalWork(ctx, `WHERE key=$1`, key)
}

func (s *PostgresStore) OriginalWorkByID(ctx context.Context, workID int64) (OriginalWork, error) {
	return s.originalWork(ctx, `WHERE id=$1`, workID)
}

func (s *PostgresStore) originalWork(ctx context.Context, where string, arg any) (OriginalWork, error) {
	var work OriginalWork
	err := s.q.QueryRowContext(ctx, `
		SELECT id, key, title, language, type, licence, author, trustee_id, created_at
		FROM original_works `+where, arg).Scan(
		&work.ID, &work.Key, &work.Title, &work.Language, &work.Type,
		&work.Licence, &work.Author, &work.TrusteeID, &work.CreatedAt,
	)
	if err != nil {
		return OriginalWork{}, err
	}
	return work, nil
}

func (s *PostgresStore) OriginalSegments(ctx context.Context, workID int64) ([]OriginalSegment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, work_id, position, page, tag, classes, content, reference
		FROM original_segments
		WHERE work_id=$1
		ORDER BY position ASC
	`, workID)
	if err != nil {
		return nil, fmt.Errorf("list original segments: %w", err)
	}
	defer rows.Close()

	items := make([]OriginalSegment, 0)
	for rows.Next() {
		var item OriginalSegment
		if err := rows.Scan(&item.ID, &item.WorkID, &item.Position, &item.Page,
			&item.Tag, &item.Classes, &item.Content, &item.Reference); err != nil {
			return nil, fmt.Errorf("scan original segment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate original segments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) OriginalSegmentByID(ctx context.Context, segmentID int64) (OriginalSegment, error) {
	var item OriginalSegment
	err := s.q.QueryRowContext(ctx, `
		SELECT id, work_id, position, page, tag, classes, content, reference
		FROM original_segments WHERE id=$1
	`, segmentID).Scan(&item.ID, &item.WorkID, &item.Position, &item.Page,
		&item.Tag, &item.Classes, &item.Content, &item.Reference)
	if err != nil {
		return OriginalSegment{}, err
	}
	return item, nil
}

func (s *PostgresStore) OriginalSegmentAt(ctx context.Context, workID int64, position int) (OriginalSegment, error) {
	var item OriginalSegment
	err := s.q.QueryRowContext(ctx, `
		SELECT id, work_id, position, page, tag, classes, content, reference
		FROM original_segments WHERE work_id=$1 AND position=$2
	`, workID, position).Scan(&item.ID, &item.WorkID, &item.Position, &item.Page,
		&item.Tag, &item.Classes, &item.Content, &item.Reference)
	if err != nil {
		return OriginalSegment{}, err
	}
	return item, nil
}

// InsertTranslatedWork materializes a translated work: one empty translated
// segment per original segment, positions and metadata copied.
func (s *PostgresStore) InsertTranslatedWork(ctx context.Context, originalID int64, language string) (TranslatedWork, error) {
	var work TranslatedWork
	err := s.InTransaction(ctx, func(tx *PostgresStore) error {
		err := tx.q.QueryRowContext(ctx, `
			INSERT INTO translated_works (original_id, language, chapters_stale)
			VALUES ($1, $2, TRUE)
			RETURNING id, original_id, language, chapters_stale, last_activity, created_at
		`, originalID, language).Scan(&work.ID, &work.OriginalID, &work.Language,
			&work.ChaptersStale, &work.LastActivity, &work.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert translated work: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO translated_segments (work_id, original_id, position, page, tag, classes, reference)
			SELECT $1, id, position, page, tag, classes, reference
			FROM original_segments
			WHERE work_id=$2
		`, work.ID, originalID); err != nil {
			return fmt.Errorf("materialize translated segments: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO work_statistics (work_id) VALUES ($1)
			ON CONFLICT (work_id) DO NOTHING
		`, work.ID); err != nil {
			return fmt.Errorf("insert work statistics row: %w", err)
		}
		return nil
	})
	if err != nil {
		return TranslatedWork{}, err
	}
	return work, nil
}

func (s *PostgresStore) TranslatedWorkByID(ctx context.Context, workID int64) (TranslatedWork, error) {
	return s.translatedWork(ctx, `WHERE id=$1`, workID)
}

func (s *PostgresStore) TranslatedWork(ctx context.Context, originalID int64, language string) (TranslatedWork, error) {
	var work TranslatedWork
	err := s.q.QueryRowContext(ctx, `
		SELECT id, original_id, language, chapters_stale, last_activity, created_at
		FROM translated_works WHERE original_id=$1 AND language=$2
	`, originalID, language).Scan(&work.ID, &work.OriginalID, &work.Language,
		&work.ChaptersStale, &work.LastActivity, &work.CreatedAt)
	if err != nil {
		return TranslatedWork{}, err
	}
	return work, nil
}

func (s *PostgresStore) translatedWork(ctx context.Context, where string, arg any) (TranslatedWork, error) {
	var work TranslatedWork
	err := s.q.QueryRowContext(ctx, `
		SELECT id, original_id, language, chapters_stale, last_activity, created_at
		FROM translated_works `+where, arg).Scan(&work.ID, &work.OriginalID, &work.Language,
		&work.ChaptersStale, &work.LastActivity, &work.CreatedAt)
	if err != nil {
		return TranslatedWork{}, err
	}
	return work, nil
}

// TranslatedWorksInLanguage lists every translated work of an original in
// one target language (the pre-translation fan-out set).
func (s *PostgresStore) TranslatedWorksInLanguage(ctx context.Context, originalID int64, language string) ([]TranslatedWork, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, original_id, language, chapters_stale, last_activity, created_at
		FROM translated_works
		WHERE original_id=$1 AND language=$2
		ORDER BY id ASC
	`, originalID, language)
	if err != nil {
		return nil, fmt.Errorf("list translated works: %w", err)
	}
	defer rows.Close()

	items := make([]TranslatedWork, 0)
	for rows.Next() {
		var item TranslatedWork
		if err := rows.Scan(&item.ID, &item.OriginalID, &item.Language,
			&item.ChaptersStale, &item.LastActivity, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan translated work: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate translated works: %w", err)
	}
	return items, nil
}

// MarkWorkActivity bumps a work's last activity and flags its chapters for
// recomputation.
func (s *PostgresStore) MarkWorkActivity(ctx context.Context, workID int64, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE translated_works
		SET last_activity=$2, chapters_stale=TRUE
		WHERE id=$1
	`, workID, at)
	if err != nil {
		return fmt.Errorf("mark work activity: %w", err)
	}
	return nil
}

// StaleChapterWorks returns works whose chapter rows lag the segment
// stream.
func (s *PostgresStore) StaleChapterWorks(ctx context.Context, limit int) ([]TranslatedWork, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, original_id, language, chapters_stale, last_activity, created_at
		FROM translated_works
		WHERE chapters_stale
		ORDER BY last_activity ASC NULLS FIRST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale works: %w", err)
	}
	defer rows.Close()

	items := make([]TranslatedWork, 0)
	for rows.Next() {
		var item TranslatedWork
		if err := rows.Scan(&item.ID, &item.OriginalID, &item.Language,
			&item.ChaptersStale, &item.LastActivity, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stale work: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale works: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ClearChaptersStale(ctx context.Context, workID int64) error {
	_, err := s.q.ExecContext(ctx, `UPDATE translated_works SET chapters_stale=FALSE WHERE id=$1`, workID)
	if err != nil {
		return fmt.Errorf("clear chapters stale: %w", err)
	}
	return nil
}
