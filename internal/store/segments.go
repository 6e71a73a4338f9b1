package store

import (
	"context"
	"fmt"
	"time"
)

const segmentColumns = `
	id, work_id, original_id, position, page, tag, classes, reference, content,
	chapter_id, progress, locked_by, locked_at, last_modified,
	translators_vote, reviewers_vote, trustees_vote`

func scanSegment(row interface{ Scan(...any) error }) (TranslatedSegment, error) {
	var seg TranslatedSegment
	err := row.Scan(&seg.ID, &seg.WorkID, &seg.OriginalID, &seg.Position, &seg.Page,
		&seg.Tag, &seg.Classes, &seg.Reference, &seg.Content,
		&seg.ChapterID, &seg.Progress, &seg.LockedBy, &seg.LockedAt, &seg.LastModified,
		&seg.TranslatorsVote, &seg.ReviewersVote, &seg.TrusteesVote)
	return seg, err
}

func (s *PostgresStore) TranslatedSegment(ctx context.Context, segmentID int64) (TranslatedSegment, error) {
	return scanSegment(s.q.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM translated_segments WHERE id=$1`, segmentID))
}

// TranslatedSegmentForUpdate loads a segment under a row lock. The save
// pipeline takes this lock before inserting the next historical record so
// relative ids stay strictly monotonic.
func (s *PostgresStore) TranslatedSegmentForUpdate(ctx context.Context, segmentID int64) (TranslatedSegment, error) {
	return scanSegment(s.q.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM translated_segments WHERE id=$1 FOR UPDATE`, segmentID))
}

func (s *PostgresStore) TranslatedSegmentAt(ctx context.Context, workID int64, position int) (TranslatedSegment, error) {
	return scanSegment(s.q.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM translated_segments WHERE work_id=$1 AND position=$2`,
		workID, position))
}

// SegmentWithOriginal joins a translated segment with the source content it
// translates and whether a base translation exists for it in the work's
// language.
type SegmentWithOriginal struct {
	TranslatedSegment
	OriginalContent string
	Pretranslated   bool
}

// SegmentsWithOriginals streams a work's segments in position order with
// their original content and pre-translation flags, as the chapter
// recompute consumes them.
func (s *PostgresStore) SegmentsWithOriginals(ctx context.Context, workID int64) ([]SegmentWithOriginal, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT ts.id, ts.work_id, ts.original_id, ts.position, ts.page, ts.tag, ts.classes,
			ts.reference, ts.content, ts.chapter_id, ts.progress, ts.locked_by, ts.locked_at,
			ts.last_modified, ts.translators_vote, ts.reviewers_vote, ts.trustees_vote,
			os.content,
			EXISTS (
				SELECT 1
				FROM base_translation_segments bts
				JOIN base_translations bt ON bt.id = bts.translation_id
				JOIN translated_works tw ON tw.id = ts.work_id
				WHERE bts.original_segment_id = ts.original_id AND bt.language = tw.language
			)
		FROM translated_segments ts
		JOIN original_segments os ON os.id = ts.original_id
		WHERE ts.work_id=$1
		ORDER BY ts.position ASC
	`, workID)
	if err != nil {
		return nil, fmt.Errorf("list segments with originals: %w", err)
	}
	defer rows.Close()

	items := make([]SegmentWithOriginal, 0)
	for rows.Next() {
		var item SegmentWithOriginal
		if err := rows.Scan(&item.ID, &item.WorkID, &item.OriginalID, &item.Position, &item.Page,
			&item.Tag, &item.Classes, &item.Reference, &item.Content,
			&item.ChapterID, &item.Progress, &item.LockedBy, &item.LockedAt, &item.LastModified,
			&item.TranslatorsVote, &item.ReviewersVote, &item.TrusteesVote,
			&item.OriginalContent, &item.Pretranslated); err != nil {
			return nil, fmt.Errorf("scan segment with original: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments with originals: %w", err)
	}
	return items, nil
}

// UpdateSegmentContent persists the mutable segment fields after a save.
func (s *PostgresStore) UpdateSegmentContent(ctx context.Context, seg TranslatedSegment) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE translated_segments
		SET content=$2, tag=$3, reference=$4, progress=$5, last_modified=$6
		WHERE id=$1
	`, seg.ID, seg.Content, seg.Tag, seg.Reference, seg.Progress, seg.LastModified)
	if err != nil {
		return fmt.Errorf("update segment content: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSegmentProgress(ctx context.Context, segmentID int64, progress string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE translated_segments SET progress=$2 WHERE id=$1
	`, segmentID, progress)
	if err != nil {
		return fmt.Errorf("update segment progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSegmentChapter(ctx context.Context, segmentID int64, chapterID *int64) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE translated_segments SET chapter_id=$2 WHERE id=$1
	`, segmentID, chapterID)
	if err != nil {
		return fmt.Errorf("update segment chapter: %w", err)
	}
	return nil
}

// AcquireLock is a compare-and-set: it succeeds when the segment is
// unlocked, already held by the same user, or the current lock has gone
// stale.
func (s *PostgresStore) AcquireLock(ctx context.Context, segmentID, userID int64, staleAfter time.Duration) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE translated_segments
		SET locked_by=$2, locked_at=NOW()
		WHERE id=$1
		  AND (locked_by IS NULL OR locked_by=$2 OR last_modified < NOW() - make_interval(secs => $3))
	`, segmentID, userID, staleAfter.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, segmentID, userID int64) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE translated_segments
		SET locked_by=NULL, locked_at=NULL
		WHERE id=$1 AND locked_by=$2
	`, segmentID, userID)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock rows: %w", err)
	}
	return affected > 0, nil
}

// SweepStaleLocks releases locks whose holder has been idle past the
// timeout. The sweep writes no history.
func (s *PostgresStore) SweepStaleLocks(ctx context.Context, staleAfter time.Duration) (int, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE translated_segments
		SET locked_by=NULL, locked_at=NULL
		WHERE locked_by IS NOT NULL AND last_modified < NOW() - make_interval(secs => $1)
	`, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("sweep stale locks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep stale locks rows: %w", err)
	}
	return int(affected), nil
}

// EmptySegmentsWithoutHistory finds the translated segments of one original
// segment, across all translated works in a language, that are still blank
// and have no history. These are the pre-translation targets.
func (s *PostgresStore) EmptySegmentsWithoutHistory(ctx context.Context, originalSegmentID int64, language string) ([]TranslatedSegment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+segmentColumns+`
		FROM translated_segments ts
		WHERE ts.original_id=$1
		  AND ts.content=''
		  AND ts.work_id IN (SELECT id FROM translated_works WHERE language=$2)
		  AND NOT EXISTS (SELECT 1 FROM historical_segments hs WHERE hs.segment_id = ts.id)
		ORDER BY ts.id ASC
	`, originalSegmentID, language)
	if err != nil {
		return nil, fmt.Errorf("list empty segments: %w", err)
	}
	defer rows.Close()

	items := make([]TranslatedSegment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan empty segment: %w", err)
		}
		items = append(items, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate empty segments: %w", err)
	}
	return items, nil
}
