// Package segment implements the save pipeline for translated segments:
// field updates, history snapshots, vote binding and progress recomputation,
// all inside one transaction per save.
package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"langify/api/internal/htmltext"
	"langify/api/internal/progress"
	"langify/api/internal/store"
)

var (
	ErrUnknownRole         = errors.New("unknown role")
	ErrNotEditable         = errors.New("segment is not editable in this role")
	ErrVoteNotAllowed      = errors.New("segment is not votable in this role")
	ErrInvalidUpdateFields = errors.New("changed field missing from update fields")
	ErrInvalidVoteValue    = errors.New("vote value out of range")
	ErrLocked              = errors.New("segment is locked by another user")
)

// Store is the persistence surface the pipeline needs. Every mutation runs
// through InTransaction so a failed save leaves no partial state.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Store) error) error
	TranslatedSegmentForUpdate(ctx context.Context, segmentID int64) (store.TranslatedSegment, error)
	OriginalSegmentByID(ctx context.Context, segmentID int64) (store.OriginalSegment, error)
	UpdateSegmentContent(ctx context.Context, seg store.TranslatedSegment) error
	UpdateSegmentProgress(ctx context.Context, segmentID int64, progressName string) error
	HistoryCount(ctx context.Context, segmentID int64) (int, error)
	InsertHistory(ctx context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error)
	LatestHistory(ctx context.Context, segmentID int64) (store.HistoricalSegment, error)
	BoundVotes(ctx context.Context, segmentID int64) ([]store.Vote, error)
	UnbindVotes(ctx context.Context, segmentID int64) error
	UnbindUserVotes(ctx context.Context, segmentID, userID int64, role string) error
	InsertVote(ctx context.Context, v store.Vote) (store.Vote, error)
	BindVoteToHistory(ctx context.Context, voteID, historyID int64) error
	UpdateVoteAggregates(ctx context.Context, segmentID int64, translators, reviewers, trustees int) error
	MarkWorkActivity(ctx context.Context, workID int64, at time.Time) error
	AcquireLock(ctx context.Context, segmentID, userID int64, staleAfter time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, segmentID, userID int64) (bool, error)
	SweepStaleLocks(ctx context.Context, staleAfter time.Duration) (int, error)
}

type pgStore struct {
	*store.PostgresStore
}

// NewStore adapts the shared Postgres store to the pipeline's interface,
// re-wrapping transactional clones so nested calls stay on one transaction.
func NewStore(ps *store.PostgresStore) Store {
	return pgStore{ps}
}

func (p pgStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	return p.PostgresStore.InTransaction(ctx, func(tx *store.PostgresStore) error {
		return fn(pgStore{tx})
	})
}

// SaveMode selects whether a save produces a history snapshot.
type SaveMode int

const (
	// WithHistory inserts a snapshot and maintains vote bindings.
	WithHistory SaveMode = iota
	// WithoutHistory persists fields only. No snapshot, no rebinding.
	WithoutHistory
)

// SaveInput carries one segment save. Nil field pointers mean "leave as is".
// UpdateFields, when non-nil, whitelists which fields may be persisted; a
// provided content value missing from the whitelist fails the save, because
// persisting around it would desynchronize the content the next reader
// compares against.
type SaveInput struct {
	SegmentID    int64
	UserID       int64
	Role         string
	Content      *string
	Tag          *string
	Reference    *string
	UpdateFields []string
	Mode         SaveMode
	ChangeReason string
}

type Service struct {
	store       Store
	lockTimeout time.Duration
	now         func() time.Time
}

func New(st Store, lockTimeout time.Duration) *Service {
	return &Service{
		store:       st,
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// Save applies one edit to a segment. A with-history save whose content
// differs from the stored content unbinds every counted vote; one whose
// content is unchanged binds the counted votes to the new snapshot as well.
func (s *Service) Save(ctx context.Context, in SaveInput) (store.TranslatedSegment, error) {
	if !progress.ValidRole(in.Role) {
		return store.TranslatedSegment{}, ErrUnknownRole
	}
	if err := checkUpdateFields(in); err != nil {
		return store.TranslatedSegment{}, err
	}

	var out store.TranslatedSegment
	err := s.store.InTransaction(ctx, func(tx Store) error {
		seg, err := tx.TranslatedSegmentForUpdate(ctx, in.SegmentID)
		if err != nil {
			return fmt.Errorf("load segment: %w", err)
		}

		// Another user's lock only blocks while it is fresh. Idle past
		// the lock timeout it is as good as released, same as AcquireLock
		// treats it.
		if seg.LockedBy != nil && *seg.LockedBy != in.UserID &&
			s.now().Sub(seg.LastModified) < s.lockTimeout {
			return ErrLocked
		}

		role := progress.Role(in.Role)
		current := progress.Parse(seg.Progress)
		votes := progress.Votes{
			Translators: seg.TranslatorsVote,
			Reviewers:   seg.ReviewersVote,
			Trustees:    seg.TrusteesVote,
		}
		if !progress.CanEdit(role, current, votes) {
			return ErrNotEditable
		}

		loadedContent := seg.Content
		if in.Content != nil {
			seg.Content = *in.Content
		}
		if in.Tag != nil {
			seg.Tag = *in.Tag
		}
		if in.Reference != nil {
			seg.Reference = *in.Reference
		}
		contentChanged := seg.Content != loadedContent

		if in.Mode == WithHistory && contentChanged {
			if err := tx.UnbindVotes(ctx, seg.ID); err != nil {
				return err
			}
			if err := tx.UpdateVoteAggregates(ctx, seg.ID, 0, 0, 0); err != nil {
				return err
			}
			votes = progress.Votes{}
			seg.TranslatorsVote, seg.ReviewersVote, seg.TrusteesVote = 0, 0, 0
		}

		next, err := s.recomputeProgress(ctx, tx, seg, current, votes)
		if err != nil {
			return err
		}
		seg.Progress = next.String()
		seg.LastModified = s.now()

		if err := tx.UpdateSegmentContent(ctx, seg); err != nil {
			return err
		}

		if in.Mode == WithHistory {
			count, err := tx.HistoryCount(ctx, seg.ID)
			if err != nil {
				return err
			}
			historyType := store.HistoryChanged
			if count == 0 {
				historyType = store.HistoryCreated
			}
			hist, err := tx.InsertHistory(ctx, snapshot(seg, in.UserID, historyType, in.ChangeReason))
			if err != nil {
				return err
			}
			if !contentChanged {
				bound, err := tx.BoundVotes(ctx, seg.ID)
				if err != nil {
					return err
				}
				for _, v := range bound {
					if err := tx.BindVoteToHistory(ctx, v.ID, hist.ID); err != nil {
						return err
					}
				}
			}
		}

		if err := tx.MarkWorkActivity(ctx, seg.WorkID, seg.LastModified); err != nil {
			return err
		}
		out = seg
		return nil
	})
	if err != nil {
		return store.TranslatedSegment{}, err
	}
	return out, nil
}

// VoteInput carries one vote action. Revoke withdraws the user's earlier
// counted votes in the role instead of adding weight.
type VoteInput struct {
	SegmentID int64
	UserID    int64
	Role      string
	Value     int
	Revoke    bool
}

// CastVote records a vote, binds it to the latest snapshot and recomputes
// the segment's aggregates and progress in the same transaction.
func (s *Service) CastVote(ctx context.Context, in VoteInput) (store.Vote, error) {
	if !progress.ValidRole(in.Role) {
		return store.Vote{}, ErrUnknownRole
	}
	if !in.Revoke && !validVoteValue(in.Value) {
		return store.Vote{}, ErrInvalidVoteValue
	}

	var out store.Vote
	err := s.store.InTransaction(ctx, func(tx Store) error {
		seg, err := tx.TranslatedSegmentForUpdate(ctx, in.SegmentID)
		if err != nil {
			return fmt.Errorf("load segment: %w", err)
		}

		role := progress.Role(in.Role)
		current := progress.Parse(seg.Progress)
		votes := progress.Votes{
			Translators: seg.TranslatorsVote,
			Reviewers:   seg.ReviewersVote,
			Trustees:    seg.TrusteesVote,
		}
		if !in.Revoke && !progress.CanVote(role, current, votes) {
			return ErrVoteNotAllowed
		}

		if in.Revoke {
			if err := tx.UnbindUserVotes(ctx, seg.ID, in.UserID, in.Role); err != nil {
				return err
			}
		}

		vote, err := tx.InsertVote(ctx, store.Vote{
			SegmentID: seg.ID,
			UserID:    in.UserID,
			Role:      in.Role,
			Value:     in.Value,
			Revoke:    in.Revoke,
			Bound:     !in.Revoke,
		})
		if err != nil {
			return err
		}

		if !in.Revoke {
			hist, err := tx.LatestHistory(ctx, seg.ID)
			switch {
			case err == nil:
				if err := tx.BindVoteToHistory(ctx, vote.ID, hist.ID); err != nil {
					return err
				}
			case store.IsNoRows(err):
				// No snapshot yet. The vote stays bound to the live
				// segment only.
			default:
				return err
			}
		}

		bound, err := tx.BoundVotes(ctx, seg.ID)
		if err != nil {
			return err
		}
		agg := progress.Votes{}
		for _, v := range bound {
			agg = agg.Add(progress.Role(v.Role), v.Value)
		}
		if err := tx.UpdateVoteAggregates(ctx, seg.ID, agg.Translators, agg.Reviewers, agg.Trustees); err != nil {
			return err
		}

		next, err := s.recomputeProgress(ctx, tx, seg, current, agg)
		if err != nil {
			return err
		}
		if next != current {
			if err := tx.UpdateSegmentProgress(ctx, seg.ID, next.String()); err != nil {
				return err
			}
		}

		if err := tx.MarkWorkActivity(ctx, seg.WorkID, s.now()); err != nil {
			return err
		}
		out = vote
		return nil
	})
	if err != nil {
		return store.Vote{}, err
	}
	return out, nil
}

// recomputeProgress derives the next state from stripped lengths and vote
// totals. Released never downgrades.
func (s *Service) recomputeProgress(ctx context.Context, tx Store, seg store.TranslatedSegment, current progress.Progress, votes progress.Votes) (progress.Progress, error) {
	if current == progress.Released {
		return progress.Released, nil
	}
	orig, err := tx.OriginalSegmentByID(ctx, seg.OriginalID)
	if err != nil {
		return 0, fmt.Errorf("load original segment: %w", err)
	}
	lengths := progress.Lengths{
		Original:    htmltext.Length(orig.Content),
		Translation: htmltext.Length(seg.Content),
	}
	return progress.Determine(lengths, votes), nil
}

// Lock claims a segment for a user. An expired lock counts as free.
func (s *Service) Lock(ctx context.Context, segmentID, userID int64) error {
	ok, err := s.store.AcquireLock(ctx, segmentID, userID, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (s *Service) Unlock(ctx context.Context, segmentID, userID int64) error {
	if _, err := s.store.ReleaseLock(ctx, segmentID, userID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// SweepLocks releases locks whose holder went quiet for longer than the
// lock timeout. Sweeping writes no history.
func (s *Service) SweepLocks(ctx context.Context) (int, error) {
	return s.store.SweepStaleLocks(ctx, s.lockTimeout)
}

// validVoteValue restricts vote weight to the four counted steps.
func validVoteValue(v int) bool {
	switch v {
	case -2, -1, 1, 2:
		return true
	}
	return false
}

func checkUpdateFields(in SaveInput) error {
	if in.UpdateFields == nil {
		return nil
	}
	allowed := map[string]bool{}
	for _, f := range in.UpdateFields {
		switch f {
		case "content", "tag", "reference":
			allowed[f] = true
		default:
			return fmt.Errorf("%w: %q", ErrInvalidUpdateFields, f)
		}
	}
	if in.Content != nil && !allowed["content"] {
		return fmt.Errorf("%w: content", ErrInvalidUpdateFields)
	}
	if in.Tag != nil && !allowed["tag"] {
		return fmt.Errorf("%w: tag", ErrInvalidUpdateFields)
	}
	if in.Reference != nil && !allowed["reference"] {
		return fmt.Errorf("%w: reference", ErrInvalidUpdateFields)
	}
	return nil
}

func snapshot(seg store.TranslatedSegment, userID int64, historyType, reason string) store.HistoricalSegment {
	uid := userID
	return store.HistoricalSegment{
		SegmentID:           seg.ID,
		HistoryUserID:       &uid,
		HistoryType:         historyType,
		HistoryChangeReason: reason,
		Content:             seg.Content,
		Tag:                 seg.Tag,
		Classes:             seg.Classes,
		Reference:           seg.Reference,
		Page:                seg.Page,
		Progress:            seg.Progress,
	}
}
