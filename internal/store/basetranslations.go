package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EnsureBaseTranslator returns the machine translator with the given name,
// creating it if missing.
func (s *PostgresStore) EnsureBaseTranslator(ctx context.Context, name string) (BaseTranslator, error) {
	var t BaseTranslator
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, type FROM base_translators WHERE name=$1
	`, name).Scan(&t.ID, &t.Name, &t.Type)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return BaseTranslator{}, fmt.Errorf("get base translator: %w", err)
	}
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO base_translators (name, type) VALUES ($1, 'ai')
		ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
		RETURNING id, name, type
	`, name).Scan(&t.ID, &t.Name, &t.Type)
	if err != nil {
		return BaseTranslator{}, fmt.Errorf("insert base translator: %w", err)
	}
	return t, nil
}

// EnsureBaseTranslation returns the single base translation of an original
// work into a language, creating it if missing. The unique constraint on
// (original_work_id, language) keeps a second provider from slipping in a
// parallel one.
func (s *PostgresStore) EnsureBaseTranslation(ctx context.Context, originalWorkID int64, language string, translatorID int64) (BaseTranslation, error) {
	var bt BaseTranslation
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO base_translations (original_work_id, language, translator_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (original_work_id, language) DO UPDATE SET language=EXCLUDED.language
		RETURNING id, original_work_id, language, translator_id
	`, originalWorkID, language, translatorID).Scan(&bt.ID, &bt.OriginalWorkID, &bt.Language, &bt.TranslatorID)
	if err != nil {
		return BaseTranslation{}, fmt.Errorf("ensure base translation: %w", err)
	}
	if bt.TranslatorID != translatorID {
		return BaseTranslation{}, fmt.Errorf("%w: base translation for work %d language %q belongs to translator %d",
			ErrConsistency, originalWorkID, language, bt.TranslatorID)
	}
	return bt, nil
}

func (s *PostgresStore) BaseTranslation(ctx context.Context, originalWorkID int64, language string) (BaseTranslation, error) {
	var bt BaseTranslation
	err := s.q.QueryRowContext(ctx, `
		SELECT id, original_work_id, language, translator_id
		FROM base_translations
		WHERE original_work_id=$1 AND language=$2
	`, originalWorkID, language).Scan(&bt.ID, &bt.OriginalWorkID, &bt.Language, &bt.TranslatorID)
	if err != nil {
		return BaseTranslation{}, fmt.Errorf("get base translation: %w", err)
	}
	return bt, nil
}

// UpsertBaseTranslationSegment stores one machine-translated segment. Retrying
// a partially processed batch overwrites with identical content.
func (s *PostgresStore) UpsertBaseTranslationSegment(ctx context.Context, translationID, originalSegmentID int64, content string) (BaseTranslationSegment, error) {
	var seg BaseTranslationSegment
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO base_translation_segments (translation_id, original_segment_id, content)
		VALUES ($1, $2, $3)
		ON CONFLICT (translation_id, original_segment_id) DO UPDATE SET content=EXCLUDED.content
		RETURNING id, translation_id, original_segment_id, content
	`, translationID, originalSegmentID, content).Scan(&seg.ID, &seg.TranslationID, &seg.OriginalSegmentID, &seg.Content)
	if err != nil {
		return BaseTranslationSegment{}, fmt.Errorf("upsert base translation segment: %w", err)
	}
	return seg, nil
}

// PretranslatedSegment pairs a machine translation with the position of its
// original segment.
type PretranslatedSegment struct {
	BaseTranslationSegment
	Position int
}

// PretranslatedSegmentsForWork lists every machine translation of a work's
// originals into a language, in position order. Work creation pre-seeds
// segment histories from these.
func (s *PostgresStore) PretranslatedSegmentsForWork(ctx context.Context, originalWorkID int64, language string) ([]PretranslatedSegment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT bts.id, bts.translation_id, bts.original_segment_id, bts.content, os.position
		FROM base_translation_segments bts
		JOIN base_translations bt ON bt.id = bts.translation_id
		JOIN original_segments os ON os.id = bts.original_segment_id
		WHERE bt.original_work_id=$1 AND bt.language=$2
		ORDER BY os.position ASC
	`, originalWorkID, language)
	if err != nil {
		return nil, fmt.Errorf("list pretranslated segments: %w", err)
	}
	defer rows.Close()

	items := make([]PretranslatedSegment, 0)
	for rows.Next() {
		var p PretranslatedSegment
		if err := rows.Scan(&p.ID, &p.TranslationID, &p.OriginalSegmentID, &p.Content, &p.Position); err != nil {
			return nil, fmt.Errorf("scan pretranslated segment: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pretranslated segments: %w", err)
	}
	return items, nil
}

// OriginalSegmentsWithoutBase lists the originals of a work that have no
// machine translation into a language yet. The queue is seeded from these.
func (s *PostgresStore) OriginalSegmentsWithoutBase(ctx context.Context, workID int64, language string) ([]OriginalSegment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT os.id, os.work_id, os.position, os.page, os.tag, os.classes, os.content, os.reference
		FROM original_segments os
		WHERE os.work_id=$1
		  AND NOT EXISTS (
			SELECT 1
			FROM base_translation_segments bts
			JOIN base_translations bt ON bt.id = bts.translation_id
			WHERE bts.original_segment_id = os.id AND bt.language=$2
		  )
		ORDER BY os.position ASC
	`, workID, language)
	if err != nil {
		return nil, fmt.Errorf("list untranslated originals: %w", err)
	}
	defer rows.Close()

	items := make([]OriginalSegment, 0)
	for rows.Next() {
		var seg OriginalSegment
		if err := rows.Scan(&seg.ID, &seg.WorkID, &seg.Position, &seg.Page, &seg.Tag, &seg.Classes, &seg.Content, &seg.Reference); err != nil {
			return nil, fmt.Errorf("scan original segment: %w", err)
		}
		items = append(items, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate untranslated originals: %w", err)
	}
	return items, nil
}

// BaseTranslationSegmentFor resolves the machine translation, if any, for one
// original segment in a language.
func (s *PostgresStore) BaseTranslationSegmentFor(ctx context.Context, originalSegmentID int64, language string) (BaseTranslationSegment, error) {
	var seg BaseTranslationSegment
	err := s.q.QueryRowContext(ctx, `
		SELECT bts.id, bts.translation_id, bts.original_segment_id, bts.content
		FROM base_translation_segments bts
		JOIN base_translations bt ON bt.id = bts.translation_id
		WHERE bts.original_segment_id=$1 AND bt.language=$2
	`, originalSegmentID, language).Scan(&seg.ID, &seg.TranslationID, &seg.OriginalSegmentID, &seg.Content)
	if err != nil {
		return BaseTranslationSegment{}, fmt.Errorf("get base translation segment: %w", err)
	}
	return seg, nil
}
