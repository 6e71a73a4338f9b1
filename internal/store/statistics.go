package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) WorkStatistics(ctx context.Context, workID int64) (WorkStatistics, error) {
	var st WorkStatistics
	err := s.q.QueryRowContext(ctx, `
		SELECT work_id, segments, translated_count, reviewed_count, authorized_count,
		       pretranslated_count, translated_percent, reviewed_percent,
		       authorized_percent, contributors, last_activity
		FROM work_statistics
		WHERE work_id=$1
	`, workID).Scan(&st.WorkID, &st.Segments, &st.TranslatedCount, &st.ReviewedCount,
		&st.AuthorizedCount, &st.PretranslatedCount, &st.TranslatedPercent,
		&st.ReviewedPercent, &st.AuthorizedPercent, &st.Contributors, &st.LastActivity)
	if err != nil {
		return WorkStatistics{}, fmt.Errorf("get work statistics: %w", err)
	}
	return st, nil
}

// UpdateWorkStatistics rewrites the derived row only when a value actually
// changed, so recomputing an untouched work produces no write.
func (s *PostgresStore) UpdateWorkStatistics(ctx context.Context, st WorkStatistics) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE work_statistics SET
			segments=$2,
			translated_count=$3,
			reviewed_count=$4,
			authorized_count=$5,
			pretranslated_count=$6,
			translated_percent=$7,
			reviewed_percent=$8,
			authorized_percent=$9,
			contributors=$10,
			last_activity=$11
		WHERE work_id=$1
		  AND (segments, translated_count, reviewed_count, authorized_count,
		       pretranslated_count, translated_percent, reviewed_percent,
		       authorized_percent, contributors, last_activity)
		      IS DISTINCT FROM
		      ($2, $3, $4, $5, $6, $7::numeric(5,2), $8::numeric(5,2),
		       $9::numeric(5,2), $10, $11::timestamptz)
	`, st.WorkID, st.Segments, st.TranslatedCount, st.ReviewedCount, st.AuthorizedCount,
		st.PretranslatedCount, st.TranslatedPercent, st.ReviewedPercent,
		st.AuthorizedPercent, st.Contributors, st.LastActivity)
	if err != nil {
		return false, fmt.Errorf("update work statistics: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update work statistics: rows affected: %w", err)
	}
	return n > 0, nil
}
