// Package comments manages segment discussion and its TTL deletion: a
// comment carrying a to_delete deadline is swept by a delayed job, with at
// most one job per comment kind per minute.
package comments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"langify/api/internal/store"
)

// MaxContentLength bounds a comment body.
const MaxContentLength = 10000

// CoalesceTTL is how long the per-kind cache key suppresses duplicate
// deletion jobs.
const CoalesceTTL = 60 * time.Second

var ErrContentTooLong = errors.New("comment content too long")
var ErrUnknownKind = errors.New("unknown comment kind")

type Store interface {
	InsertComment(ctx context.Context, c store.Comment) (store.Comment, error)
	CommentByID(ctx context.Context, id int64) (store.Comment, error)
	CommentsForSegment(ctx context.Context, segmentID int64) ([]store.Comment, error)
	UpdateComment(ctx context.Context, id int64, content string) (store.Comment, error)
	SetCommentDeletion(ctx context.Context, id int64, toDelete *time.Time) (store.Comment, error)
	DeleteComment(ctx context.Context, id int64) error
	DeleteExpiredComments(ctx context.Context, kind string, now time.Time) (int64, error)
}

// Cache is the coalescing lock. A SetNX failure degrades to a job possibly
// running twice, which the idempotent sweep tolerates.
type Cache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

type Rescheduler interface {
	After(delay time.Duration, name string, job func(ctx context.Context) error)
}

type Service struct {
	store         Store
	cache         Cache
	sched         Rescheduler
	log           *log.Logger
	deletionDelay time.Duration
	now           func() time.Time
}

func New(st Store, cache Cache, sched Rescheduler, logger *log.Logger, deletionDelay time.Duration) *Service {
	return &Service{
		store:         st,
		cache:         cache,
		sched:         sched,
		log:           logger,
		deletionDelay: deletionDelay,
		now:           time.Now,
	}
}

func validKind(kind string) bool {
	switch kind {
	case store.CommentKindSegment, store.CommentKindDeveloper, store.CommentKindIssue:
		return true
	}
	return false
}

func (s *Service) Create(ctx context.Context, c store.Comment) (store.Comment, error) {
	if !validKind(c.Kind) {
		return store.Comment{}, ErrUnknownKind
	}
	if len(c.Content) > MaxContentLength {
		return store.Comment{}, ErrContentTooLong
	}
	saved, err := s.store.InsertComment(ctx, c)
	if err != nil {
		return store.Comment{}, err
	}
	if saved.ToDelete != nil {
		s.scheduleDeletion(ctx, saved.Kind, *saved.ToDelete)
	}
	return saved, nil
}

func (s *Service) Get(ctx context.Context, id int64) (store.Comment, error) {
	return s.store.CommentByID(ctx, id)
}

func (s *Service) ForSegment(ctx context.Context, segmentID int64) ([]store.Comment, error) {
	return s.store.CommentsForSegment(ctx, segmentID)
}

func (s *Service) Update(ctx context.Context, id int64, content string) (store.Comment, error) {
	if len(content) > MaxContentLength {
		return store.Comment{}, ErrContentTooLong
	}
	return s.store.UpdateComment(ctx, id, content)
}

// MarkForDeletion sets or clears the comment's deadline. Clearing cancels
// the deletion; the scheduled job then finds nothing expired.
func (s *Service) MarkForDeletion(ctx context.Context, id int64, toDelete *time.Time) (store.Comment, error) {
	saved, err := s.store.SetCommentDeletion(ctx, id, toDelete)
	if err != nil {
		return store.Comment{}, err
	}
	if saved.ToDelete != nil {
		s.scheduleDeletion(ctx, saved.Kind, *saved.ToDelete)
	}
	return saved, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteComment(ctx, id)
}

// scheduleDeletion queues one sweep of the kind, coalesced per kind through
// the cache. The sweep runs after the deadline plus the deletion delay plus
// the coalescing window, so every comment marked during the window has
// expired by then.
func (s *Service) scheduleDeletion(ctx context.Context, kind string, deadline time.Time) {
	won, err := s.cache.SetNX(ctx, "comment_deletion:"+kind, "1", CoalesceTTL)
	if err != nil {
		s.log.Printf("comments: coalescing cache: %v", err)
		won = true
	}
	if !won {
		return
	}
	delay := time.Until(deadline) + s.deletionDelay + CoalesceTTL
	if delay < 0 {
		delay = 0
	}
	s.sched.After(delay, fmt.Sprintf("delete %s comments", kind), func(ctx context.Context) error {
		n, err := s.store.DeleteExpiredComments(ctx, kind, s.now())
		if err != nil {
			return err
		}
		if n > 0 {
			s.log.Printf("comments: deleted %d expired %s comments", n, kind)
		}
		return nil
	})
}
