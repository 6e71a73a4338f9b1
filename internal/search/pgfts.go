package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// It uses the simple configuration; stemming a mixed-language corpus with a
// single dictionary would skew results.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across works and segments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultWork {
		workWhere := fmt.Sprintf("to_tsvector('simple', ow.title || ' ' || ow.author) @@ %s", tsQuery)
		if q.FilterLanguage != "" {
			workWhere += fmt.Sprintf(" AND tw.language = $%d", argN)
			args = append(args, q.FilterLanguage)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'work'::text AS type, tw.id::text, ow.title,
				ts_headline('simple', ow.author, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				tw.id::text AS work_id, tw.language, 0 AS position,
				ts_rank(to_tsvector('simple', ow.title || ' ' || ow.author), %s) AS rank
			FROM translated_works tw
			JOIN original_works ow ON ow.id = tw.original_id
			WHERE %s`, tsQuery, tsQuery, workWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultSegment {
		segWhere := fmt.Sprintf("to_tsvector('simple', ts.content || ' ' || os.content) @@ %s", tsQuery)
		if q.FilterLanguage != "" {
			segWhere += fmt.Sprintf(" AND tw.language = $%d", argN)
			args = append(args, q.FilterLanguage)
			argN++
		}
		if q.FilterWorkID != "" {
			segWhere += fmt.Sprintf(" AND tw.id::text = $%d", argN)
			args = append(args, q.FilterWorkID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'segment'::text AS type, ts.id::text, ''::text AS title,
				ts_headline('simple', coalesce(nullif(ts.content, ''), os.content), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				tw.id::text AS work_id, tw.language, ts.position,
				ts_rank(to_tsvector('simple', ts.content || ' ' || os.content), %s) AS rank
			FROM translated_segments ts
			JOIN translated_works tw ON tw.id = ts.work_id
			JOIN original_segments os ON os.id = ts.original_id
			WHERE %s`, tsQuery, tsQuery, segWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, work_id, language, position
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.WorkID, &r.Language, &r.Position); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]WorkRecord, []SegmentRecord, error) {
	workRows, err := p.db.QueryContext(ctx, `
		SELECT tw.id::text, ow.title, ow.author, tw.language
		FROM translated_works tw
		JOIN original_works ow ON ow.id = tw.original_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load works: %w", err)
	}
	defer workRows.Close()

	works := make([]WorkRecord, 0)
	for workRows.Next() {
		var w WorkRecord
		if err := workRows.Scan(&w.ID, &w.Title, &w.Author, &w.Language); err != nil {
			return nil, nil, fmt.Errorf("scan work: %w", err)
		}
		works = append(works, w)
	}
	if err := workRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate works: %w", err)
	}

	segmentRows, err := p.db.QueryContext(ctx, `
		SELECT ts.id::text, tw.id::text, tw.language, ts.position, ts.content, os.content, ts.progress
		FROM translated_segments ts
		JOIN translated_works tw ON tw.id = ts.work_id
		JOIN original_segments os ON os.id = ts.original_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load segments: %w", err)
	}
	defer segmentRows.Close()

	segments := make([]SegmentRecord, 0)
	for segmentRows.Next() {
		var s SegmentRecord
		if err := segmentRows.Scan(&s.ID, &s.WorkID, &s.Language, &s.Position, &s.Content, &s.OriginalContent, &s.Progress); err != nil {
			return nil, nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, s)
	}
	if err := segmentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate segments: %w", err)
	}

	return works, segments, nil
}
