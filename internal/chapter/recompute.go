package chapter

import (
	"context"
	"fmt"
	"log"
	"time"

	"langify/api/internal/progress"
	"langify/api/internal/store"
)

// Store is the persistence surface the recomputer needs. One recompute runs
// inside one transaction so readers never see half-assigned chapters.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Store) error) error
	TranslatedWorkByID(ctx context.Context, workID int64) (store.TranslatedWork, error)
	OriginalWorkByID(ctx context.Context, workID int64) (store.OriginalWork, error)
	SegmentsWithOriginals(ctx context.Context, workID int64) ([]store.SegmentWithOriginal, error)
	UpsertHeading(ctx context.Context, h store.ImportantHeading) (store.ImportantHeading, error)
	DeleteHeadingsExcept(ctx context.Context, workID int64, keepPositions []int) error
	UpdateSegmentChapter(ctx context.Context, segmentID int64, chapterID *int64) error
	ClearChaptersStale(ctx context.Context, workID int64) error
	StaleChapterWorks(ctx context.Context, limit int) ([]store.TranslatedWork, error)
}

type pgStore struct {
	*store.PostgresStore
}

func NewStore(ps *store.PostgresStore) Store {
	return pgStore{ps}
}

func (p pgStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	return p.PostgresStore.InTransaction(ctx, func(tx *store.PostgresStore) error {
		return fn(pgStore{tx})
	})
}

// Recomputer rebuilds the derived chapter rows of translated works marked
// stale by segment activity. Rerunning on an unchanged work rewrites
// identical rows.
type Recomputer struct {
	store Store
	log   *log.Logger
}

func NewRecomputer(st Store, logger *log.Logger) *Recomputer {
	return &Recomputer{store: st, log: logger}
}

// RunStale recomputes up to limit works whose chapters are out of date.
func (r *Recomputer) RunStale(ctx context.Context, limit int) ([]int64, error) {
	works, err := r.store.StaleChapterWorks(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale works: %w", err)
	}
	done := make([]int64, 0, len(works))
	for _, work := range works {
		if err := r.Recompute(ctx, work.ID); err != nil {
			r.log.Printf("chapters: work %d: %v", work.ID, err)
			continue
		}
		done = append(done, work.ID)
	}
	return done, nil
}

// Recompute detects chapter boundaries for one work, rewrites its heading
// rows and reassigns every segment's chapter pointer.
func (r *Recomputer) Recompute(ctx context.Context, workID int64) error {
	return r.store.InTransaction(ctx, func(tx Store) error {
		work, err := tx.TranslatedWorkByID(ctx, workID)
		if err != nil {
			return fmt.Errorf("load work: %w", err)
		}
		original, err := tx.OriginalWorkByID(ctx, work.OriginalID)
		if err != nil {
			return fmt.Errorf("load original work: %w", err)
		}
		rows, err := tx.SegmentsWithOriginals(ctx, workID)
		if err != nil {
			return fmt.Errorf("load segments: %w", err)
		}

		segments := make([]Segment, len(rows))
		for i, row := range rows {
			segments[i] = Segment{
				ID:              row.ID,
				Position:        row.Position,
				Tag:             row.Tag,
				Classes:         row.Classes,
				Content:         row.Content,
				OriginalContent: row.OriginalContent,
			}
		}

		boundaries := Detect(segments, original.Type == store.WorkTypeManuscript)
		assignment := Assign(boundaries, segments)

		headingIDs := make([]int64, len(boundaries))
		keep := make([]int, len(boundaries))
		for i, b := range boundaries {
			counters := countMembers(rows, assignment, i)
			h := store.ImportantHeading{
				WorkID:          workID,
				SegmentID:       b.SegmentID,
				Number:          b.Number,
				FirstPosition:   b.FirstPosition,
				Position:        b.Position,
				Tag:             b.Tag,
				Classes:         b.Classes,
				SegmentsCount:   counters.segments,
				TranslationDone: counters.translationDone,
				ReviewDone:      counters.reviewDone,
				TrusteeDone:     counters.trusteeDone,
				Pretranslated:   counters.pretranslated,
				Date:            counters.date,
			}
			saved, err := tx.UpsertHeading(ctx, h)
			if err != nil {
				return err
			}
			headingIDs[i] = saved.ID
			keep[i] = b.Position
		}
		if err := tx.DeleteHeadingsExcept(ctx, workID, keep); err != nil {
			return err
		}

		for _, row := range rows {
			var chapterID *int64
			if idx, ok := assignment[row.Position]; ok && idx >= 0 {
				chapterID = &headingIDs[idx]
			}
			if sameChapter(row.ChapterID, chapterID) {
				continue
			}
			if err := tx.UpdateSegmentChapter(ctx, row.ID, chapterID); err != nil {
				return err
			}
		}

		return tx.ClearChaptersStale(ctx, workID)
	})
}

type memberCounters struct {
	segments        int
	translationDone int
	reviewDone      int
	trusteeDone     int
	pretranslated   int
	date            *time.Time
}

func countMembers(rows []store.SegmentWithOriginal, assignment map[int]int, boundary int) memberCounters {
	var c memberCounters
	for _, row := range rows {
		if idx, ok := assignment[row.Position]; !ok || idx != boundary {
			continue
		}
		c.segments++
		p := progress.Parse(row.Progress)
		if p >= progress.TranslationDone {
			c.translationDone++
		}
		if p >= progress.ReviewDone {
			c.reviewDone++
		}
		if p >= progress.TrusteeDone {
			c.trusteeDone++
		}
		if row.Pretranslated {
			c.pretranslated++
		}
		if c.date == nil || row.LastModified.After(*c.date) {
			t := row.LastModified
			c.date = &t
		}
	}
	return c
}

func sameChapter(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
