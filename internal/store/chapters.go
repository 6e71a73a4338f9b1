package store

import (
	"context"
	"fmt"
)

const headingColumns = `
	id, work_id, segment_id, number, first_position, position, tag, classes,
	segments_count, translation_done, review_done, trustee_done, pretranslated, date`

func scanHeading(row interface{ Scan(...any) error }) (ImportantHeading, error) {
	var h ImportantHeading
	err := row.Scan(&h.ID, &h.WorkID, &h.SegmentID, &h.Number, &h.FirstPosition, &h.Position,
		&h.Tag, &h.Classes, &h.SegmentsCount, &h.TranslationDone, &h.ReviewDone,
		&h.TrusteeDone, &h.Pretranslated, &h.Date)
	return h, err
}

// UpsertHeading writes one derived chapter row, keyed by (work, position).
// Running the recompute twice therefore leaves identical rows.
func (s *PostgresStore) UpsertHeading(ctx context.Context, h ImportantHeading) (ImportantHeading, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO important_headings
			(work_id, segment_id, number, first_position, position, tag, classes,
			 segments_count, translation_done, review_done, trustee_done, pretranslated, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (work_id, position) DO UPDATE SET
			segment_id=EXCLUDED.segment_id,
			number=EXCLUDED.number,
			first_position=EXCLUDED.first_position,
			tag=EXCLUDED.tag,
			classes=EXCLUDED.classes,
			segments_count=EXCLUDED.segments_count,
			translation_done=EXCLUDED.translation_done,
			review_done=EXCLUDED.review_done,
			trustee_done=EXCLUDED.trustee_done,
			pretranslated=EXCLUDED.pretranslated,
			date=EXCLUDED.date
		RETURNING `+headingColumns,
		h.WorkID, h.SegmentID, h.Number, h.FirstPosition, h.Position, h.Tag, h.Classes,
		h.SegmentsCount, h.TranslationDone, h.ReviewDone, h.TrusteeDone, h.Pretranslated, h.Date,
	).Scan(&h.ID, &h.WorkID, &h.SegmentID, &h.Number, &h.FirstPosition, &h.Position,
		&h.Tag, &h.Classes, &h.SegmentsCount, &h.TranslationDone, &h.ReviewDone,
		&h.TrusteeDone, &h.Pretranslated, &h.Date)
	if err != nil {
		return ImportantHeading{}, fmt.Errorf("upsert heading: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) HeadingsForWork(ctx context.Context, workID int64) ([]ImportantHeading, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+headingColumns+`
		FROM important_headings
		WHERE work_id=$1
		ORDER BY position ASC
	`, workID)
	if err != nil {
		return nil, fmt.Errorf("list headings: %w", err)
	}
	defer rows.Close()

	items := make([]ImportantHeading, 0)
	for rows.Next() {
		h, err := scanHeading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan heading: %w", err)
		}
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate headings: %w", err)
	}
	return items, nil
}

// DeleteHeadingsExcept removes chapter rows no longer present in the
// detected boundary set.
func (s *PostgresStore) DeleteHeadingsExcept(ctx context.Context, workID int64, keepPositions []int) error {
	if len(keepPositions) == 0 {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM important_headings WHERE work_id=$1`, workID); err != nil {
			return fmt.Errorf("delete headings: %w", err)
		}
		return nil
	}
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM important_headings
		WHERE work_id=$1 AND NOT (position = ANY($2))
	`, workID, positionsArray(keepPositions))
	if err != nil {
		return fmt.Errorf("delete stale headings: %w", err)
	}
	return nil
}

// positionsArray renders an int slice as a Postgres int array literal; the
// pgx stdlib driver does not bind Go slices directly.
func positionsArray(positions []int) string {
	out := "{"
	for i, p := range positions {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%d", p)
	}
	return out + "}"
}
