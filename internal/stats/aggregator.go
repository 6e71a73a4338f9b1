// Package stats rolls chapter counters up into one derived statistics row
// per translated work.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"langify/api/internal/store"
)

type Store interface {
	InTransaction(ctx context.Context, fn func(tx Store) error) error
	HeadingsForWork(ctx context.Context, workID int64) ([]store.ImportantHeading, error)
	ContributorCount(ctx context.Context, workID int64) (int, error)
	UpdateWorkStatistics(ctx context.Context, st store.WorkStatistics) (bool, error)
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

type Aggregator struct {
	store Store
}

func NewAggregator(st Store) *Aggregator {
	return &Aggregator{store: st}
}

// Aggregate recomputes one work's statistics row from its chapter rows.
// The row is only written when a derived value changed, so rerunning on an
// untouched work is a no-op.
func (a *Aggregator) Aggregate(ctx context.Context, workID int64) (store.WorkStatistics, error) {
	var out store.WorkStatistics
	err := a.store.InTransaction(ctx, func(tx Store) error {
		headings, err := tx.HeadingsForWork(ctx, workID)
		if err != nil {
			return err
		}
		contributors, err := tx.ContributorCount(ctx, workID)
		if err != nil {
			return err
		}

		st := store.WorkStatistics{WorkID: workID, Contributors: contributors}
		var lastActivity *time.Time
		for _, h := range headings {
			st.Segments += h.SegmentsCount
			st.TranslatedCount += h.TranslationDone
			st.ReviewedCount += h.ReviewDone
			st.AuthorizedCount += h.TrusteeDone
			st.PretranslatedCount += h.Pretranslated
			if h.Date != nil && (lastActivity == nil || h.Date.After(*lastActivity)) {
				t := *h.Date
				lastActivity = &t
			}
		}
		st.LastActivity = lastActivity
		st.TranslatedPercent = percent(st.TranslatedCount, st.Segments)
		st.ReviewedPercent = percent(st.ReviewedCount, st.Segments)
		st.AuthorizedPercent = percent(st.AuthorizedCount, st.Segments)

		if _, err := tx.UpdateWorkStatistics(ctx, st); err != nil {
			return fmt.Errorf("write statistics: %w", err)
		}
		out = st
		return nil
	})
	if err != nil {
		return store.WorkStatistics{}, err
	}
	return out, nil
}

// percent returns 100*count/total rounded to two decimals, 0 for an empty
// work.
func percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*10000) / 100
}
