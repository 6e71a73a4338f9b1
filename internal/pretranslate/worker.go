// Package pretranslate feeds empty segments through the machine
// translation provider. A single worker consumes the queue one item at a
// time and paces itself against the provider's rate limit.
package pretranslate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"langify/api/internal/htmltext"
	"langify/api/internal/progress"
	"langify/api/internal/queue"
	"langify/api/internal/store"
	"langify/api/internal/translate"
)

// AIUsername is the system account credited for machine translations.
const AIUsername = "AI"

// RescheduleDelay spaces successive provider calls so the per-minute
// character limit relaxes between items.
const RescheduleDelay = 120 * time.Second

type Store interface {
	InTransaction(ctx context.Context, fn func(tx Store) error) error
	OriginalWorkByID(ctx context.Context, workID int64) (store.OriginalWork, error)
	OriginalSegmentAt(ctx context.Context, workID int64, position int) (store.OriginalSegment, error)
	OriginalSegmentsWithoutBase(ctx context.Context, workID int64, language string) ([]store.OriginalSegment, error)
	EnsureAIUser(ctx context.Context, username string) (store.User, error)
	EnsureBaseTranslator(ctx context.Context, name string) (store.BaseTranslator, error)
	EnsureBaseTranslation(ctx context.Context, originalWorkID int64, language string, translatorID int64) (store.BaseTranslation, error)
	UpsertBaseTranslationSegment(ctx context.Context, translationID, originalSegmentID int64, content string) (store.BaseTranslationSegment, error)
	EmptySegmentsWithoutHistory(ctx context.Context, originalSegmentID int64, language string) ([]store.TranslatedSegment, error)
	UpdateSegmentContent(ctx context.Context, seg store.TranslatedSegment) error
	InsertHistory(ctx context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error)
	MarkWorkActivity(ctx context.Context, workID int64, at time.Time) error
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

// Queue is the FIFO the worker consumes. Requeues go to the head.
type Queue interface {
	PopHead(ctx context.Context) (queue.Item, error)
	PushHead(ctx context.Context, item queue.Item) error
	PushTail(ctx context.Context, item queue.Item) error
}

// Rescheduler delays the worker's next run.
type Rescheduler interface {
	After(delay time.Duration, name string, job func(ctx context.Context) error)
}

type Worker struct {
	store      Store
	queue      Queue
	translator translate.Translator
	sched      Rescheduler
	log        *log.Logger
	delay      time.Duration
}

func NewWorker(st Store, q Queue, tr translate.Translator, sched Rescheduler, logger *log.Logger) *Worker {
	return &Worker{
		store:      st,
		queue:      q,
		translator: tr,
		sched:      sched,
		log:        logger,
		delay:      RescheduleDelay,
	}
}

// EnqueueMissing queues every original segment of a work that has no
// machine translation into the language yet.
func (w *Worker) EnqueueMissing(ctx context.Context, originalWorkID int64, language string) (int, error) {
	segments, err := w.store.OriginalSegmentsWithoutBase(ctx, originalWorkID, language)
	if err != nil {
		return 0, err
	}
	for _, seg := range segments {
		if err := w.queue.PushTail(ctx, queue.Item{WorkID: originalWorkID, Language: language, Position: seg.Position}); err != nil {
			return 0, err
		}
	}
	return len(segments), nil
}

// Run processes one queue item and reschedules itself, polling when the
// queue is empty so later-enqueued items are always picked up. Only an
// exhausted quota stops the chain, after requeueing its item; an
// unexpected provider answer requeues, surfaces the error and keeps
// polling.
func (w *Worker) Run(ctx context.Context) error {
	reschedule := true
	defer func() {
		if reschedule {
			w.sched.After(w.delay, "pretranslate", w.Run)
		}
	}()

	item, err := w.queue.PopHead(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return nil
	}
	if err != nil {
		return err
	}

	original, err := w.store.OriginalWorkByID(ctx, item.WorkID)
	if err != nil {
		return fmt.Errorf("load original work: %w", err)
	}
	segment, err := w.store.OriginalSegmentAt(ctx, item.WorkID, item.Position)
	if err != nil {
		return fmt.Errorf("load original segment: %w", err)
	}

	translated, err := w.translator.Translate(ctx, original.Language, item.Language, segment.Content)
	if err != nil {
		if pushErr := w.queue.PushHead(ctx, item); pushErr != nil {
			reschedule = false
			return errors.Join(err, pushErr)
		}
		if errors.Is(err, translate.ErrQuotaExceeded) {
			reschedule = false
			w.log.Printf("pretranslate: quota exhausted, stopping after requeue of work %d position %d", item.WorkID, item.Position)
			return nil
		}
		return err
	}

	return w.storeTranslation(ctx, item, segment, translated)
}

// storeTranslation persists the provider output and seeds every translated
// segment in the language that is still blank and historyless.
func (w *Worker) storeTranslation(ctx context.Context, item queue.Item, original store.OriginalSegment, translated string) error {
	return w.store.InTransaction(ctx, func(tx Store) error {
		aiUser, err := tx.EnsureAIUser(ctx, AIUsername)
		if err != nil {
			return err
		}
		translator, err := tx.EnsureBaseTranslator(ctx, w.translator.Name())
		if err != nil {
			return err
		}
		translation, err := tx.EnsureBaseTranslation(ctx, item.WorkID, item.Language, translator.ID)
		if err != nil {
			return err
		}
		if _, err := tx.UpsertBaseTranslationSegment(ctx, translation.ID, original.ID, translated); err != nil {
			return err
		}

		empty, err := tx.EmptySegmentsWithoutHistory(ctx, original.ID, item.Language)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, seg := range empty {
			seg.Content = translated
			seg.Progress = seedProgress(original.Content, translated).String()
			seg.LastModified = now
			if err := tx.UpdateSegmentContent(ctx, seg); err != nil {
				return err
			}
			if _, err := tx.InsertHistory(ctx, store.HistoricalSegment{
				SegmentID:           seg.ID,
				HistoryUserID:       &aiUser.ID,
				HistoryType:         store.HistoryCreated,
				HistoryChangeReason: w.translator.Name() + " translation",
				Content:             seg.Content,
				Tag:                 seg.Tag,
				Classes:             seg.Classes,
				Reference:           seg.Reference,
				Page:                seg.Page,
				Progress:            seg.Progress,
			}); err != nil {
				return err
			}
			if err := tx.MarkWorkActivity(ctx, seg.WorkID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func seedProgress(originalContent, translated string) progress.Progress {
	return progress.Determine(progress.Lengths{
		Original:    htmltext.Length(originalContent),
		Translation: htmltext.Length(translated),
	}, progress.Votes{})
}
