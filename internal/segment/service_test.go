package segment

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"langify/api/internal/store"
)

// memStore is an in-memory Store with enough semantics for pipeline tests:
// history relative IDs, vote binding and aggregate columns behave like the
// real schema.
type memStore struct {
	segments  map[int64]store.TranslatedSegment
	originals map[int64]store.OriginalSegment
	histories []store.HistoricalSegment
	votes     []store.Vote
	bindings  map[int64][]int64 // vote ID to history IDs
	activity  map[int64]time.Time
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		segments:  map[int64]store.TranslatedSegment{},
		originals: map[int64]store.OriginalSegment{},
		bindings:  map[int64][]int64{},
		activity:  map[int64]time.Time{},
		nextID:    1,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID - 1
}

func (m *memStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(m)
}

func (m *memStore) TranslatedSegmentForUpdate(_ context.Context, segmentID int64) (store.TranslatedSegment, error) {
	seg, ok := m.segments[segmentID]
	if !ok {
		return store.TranslatedSegment{}, sql.ErrNoRows
	}
	return seg, nil
}

func (m *memStore) OriginalSegmentByID(_ context.Context, segmentID int64) (store.OriginalSegment, error) {
	orig, ok := m.originals[segmentID]
	if !ok {
		return store.OriginalSegment{}, sql.ErrNoRows
	}
	return orig, nil
}

func (m *memStore) UpdateSegmentContent(_ context.Context, seg store.TranslatedSegment) error {
	stored := m.segments[seg.ID]
	stored.Content = seg.Content
	stored.Tag = seg.Tag
	stored.Reference = seg.Reference
	stored.Progress = seg.Progress
	stored.LastModified = seg.LastModified
	m.segments[seg.ID] = stored
	return nil
}

func (m *memStore) UpdateSegmentProgress(_ context.Context, segmentID int64, progressName string) error {
	seg := m.segments[segmentID]
	seg.Progress = progressName
	m.segments[segmentID] = seg
	return nil
}

func (m *memStore) HistoryCount(_ context.Context, segmentID int64) (int, error) {
	n := 0
	for _, h := range m.histories {
		if h.SegmentID == segmentID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertHistory(_ context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error) {
	max := 0
	for _, prev := range m.histories {
		if prev.SegmentID == h.SegmentID && prev.RelativeID > max {
			max = prev.RelativeID
		}
	}
	h.ID = m.id()
	h.RelativeID = max + 1
	h.HistoryDate = time.Now()
	m.histories = append(m.histories, h)
	return h, nil
}

func (m *memStore) LatestHistory(_ context.Context, segmentID int64) (store.HistoricalSegment, error) {
	var latest store.HistoricalSegment
	found := false
	for _, h := range m.histories {
		if h.SegmentID == segmentID && (!found || h.RelativeID > latest.RelativeID) {
			latest = h
			found = true
		}
	}
	if !found {
		return store.HistoricalSegment{}, sql.ErrNoRows
	}
	return latest, nil
}

func (m *memStore) BoundVotes(_ context.Context, segmentID int64) ([]store.Vote, error) {
	var out []store.Vote
	for _, v := range m.votes {
		if v.SegmentID == segmentID && v.Bound {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) UnbindVotes(_ context.Context, segmentID int64) error {
	for i, v := range m.votes {
		if v.SegmentID == segmentID {
			m.votes[i].Bound = false
		}
	}
	return nil
}

func (m *memStore) UnbindUserVotes(_ context.Context, segmentID, userID int64, role string) error {
	for i, v := range m.votes {
		if v.SegmentID == segmentID && v.UserID == userID && v.Role == role && !v.Revoke {
			m.votes[i].Bound = false
		}
	}
	return nil
}

func (m *memStore) InsertVote(_ context.Context, v store.Vote) (store.Vote, error) {
	v.ID = m.id()
	v.Date = time.Now()
	m.votes = append(m.votes, v)
	return v, nil
}

func (m *memStore) BindVoteToHistory(_ context.Context, voteID, historyID int64) error {
	for _, existing := range m.bindings[voteID] {
		if existing == historyID {
			return nil
		}
	}
	m.bindings[voteID] = append(m.bindings[voteID], historyID)
	return nil
}

func (m *memStore) UpdateVoteAggregates(_ context.Context, segmentID int64, translators, reviewers, trustees int) error {
	seg := m.segments[segmentID]
	seg.TranslatorsVote = translators
	seg.ReviewersVote = reviewers
	seg.TrusteesVote = trustees
	m.segments[segmentID] = seg
	return nil
}

func (m *memStore) MarkWorkActivity(_ context.Context, workID int64, at time.Time) error {
	m.activity[workID] = at
	return nil
}

func (m *memStore) AcquireLock(_ context.Context, segmentID, userID int64, staleAfter time.Duration) (bool, error) {
	seg := m.segments[segmentID]
	if seg.LockedBy != nil && *seg.LockedBy != userID {
		return false, nil
	}
	seg.LockedBy = &userID
	m.segments[segmentID] = seg
	return true, nil
}

func (m *memStore) ReleaseLock(_ context.Context, segmentID, userID int64) (bool, error) {
	seg := m.segments[segmentID]
	if seg.LockedBy == nil || *seg.LockedBy != userID {
		return false, nil
	}
	seg.LockedBy = nil
	m.segments[segmentID] = seg
	return true, nil
}

func (m *memStore) SweepStaleLocks(_ context.Context, staleAfter time.Duration) (int, error) {
	return 0, nil
}

// seedSegment wires one translated segment with its original.
func (m *memStore) seedSegment(content, originalContent, progressName string) int64 {
	origID := m.id()
	m.originals[origID] = store.OriginalSegment{ID: origID, WorkID: 1, Position: 1, Content: originalContent}
	segID := m.id()
	m.segments[segID] = store.TranslatedSegment{
		ID:         segID,
		WorkID:     10,
		OriginalID: origID,
		Position:   1,
		Tag:        "p",
		Content:    content,
		Progress:   progressName,
	}
	return segID
}

func strPtr(s string) *string { return &s }

func TestSaveFirstTimeCreatesHistory(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", strings.Repeat("o", 100), "blank")
	svc := New(m, time.Minute)

	seg, err := svc.Save(context.Background(), SaveInput{
		SegmentID: segID,
		UserID:    7,
		Role:      "translator",
		Content:   strPtr(strings.Repeat("t", 30)),
		Mode:      WithHistory,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if seg.Progress != "translation_done" {
		t.Fatalf("progress = %q, want translation_done", seg.Progress)
	}
	if len(m.histories) != 1 {
		t.Fatalf("histories = %d, want 1", len(m.histories))
	}
	h := m.histories[0]
	if h.HistoryType != store.HistoryCreated {
		t.Fatalf("history type = %q, want %q", h.HistoryType, store.HistoryCreated)
	}
	if h.RelativeID != 1 {
		t.Fatalf("relative id = %d, want 1", h.RelativeID)
	}
	if _, ok := m.activity[10]; !ok {
		t.Fatal("work activity not marked")
	}
}

func TestSaveRelativeIDsIncrement(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", strings.Repeat("o", 100), "blank")
	svc := New(m, time.Minute)

	for i, content := range []string{"first draft of the text here", "second draft of the text here", "third draft of the text here"} {
		if _, err := svc.Save(context.Background(), SaveInput{
			SegmentID: segID, UserID: 7, Role: "translator",
			Content: strPtr(content), Mode: WithHistory,
		}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	for i, h := range m.histories {
		if h.RelativeID != i+1 {
			t.Fatalf("history %d relative id = %d, want %d", i, h.RelativeID, i+1)
		}
	}
}

func TestSaveContentChangeUnbindsVotes(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment(strings.Repeat("t", 30), strings.Repeat("o", 100), "translation_done")
	svc := New(m, time.Minute)
	ctx := context.Background()

	if _, err := svc.Save(ctx, SaveInput{
		SegmentID: segID, UserID: 7, Role: "translator",
		Content: strPtr(strings.Repeat("t", 30)), Mode: WithHistory,
	}); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	if _, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 8, Role: "reviewer", Value: 1}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got := m.segments[segID].ReviewersVote; got != 1 {
		t.Fatalf("reviewers vote = %d, want 1", got)
	}
	if got := m.segments[segID].Progress; got != "in_review" {
		t.Fatalf("progress = %q, want in_review", got)
	}

	// Only trustees may edit once a reviewer vote exists.
	if _, err := svc.Save(ctx, SaveInput{
		SegmentID: segID, UserID: 9, Role: "trustee",
		Content: strPtr(strings.Repeat("u", 30)), Mode: WithHistory,
	}); err != nil {
		t.Fatalf("content save: %v", err)
	}

	seg := m.segments[segID]
	if seg.TranslatorsVote != 0 || seg.ReviewersVote != 0 || seg.TrusteesVote != 0 {
		t.Fatalf("aggregates = %d/%d/%d, want all zero", seg.TranslatorsVote, seg.ReviewersVote, seg.TrusteesVote)
	}
	bound, _ := m.BoundVotes(ctx, segID)
	if len(bound) != 0 {
		t.Fatalf("bound votes = %d, want 0", len(bound))
	}
	if seg.Progress != "translation_done" {
		t.Fatalf("progress = %q, want translation_done after unbind", seg.Progress)
	}
}

func TestSaveUnchangedContentRebindsVotes(t *testing.T) {
	m := newMemStore()
	content := strings.Repeat("t", 30)
	segID := m.seedSegment(content, strings.Repeat("o", 100), "translation_done")
	svc := New(m, time.Minute)
	ctx := context.Background()

	if _, err := svc.Save(ctx, SaveInput{
		SegmentID: segID, UserID: 7, Role: "translator",
		Content: strPtr(content), Mode: WithHistory,
	}); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	vote, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 8, Role: "reviewer", Value: 1})
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if len(m.bindings[vote.ID]) != 1 {
		t.Fatalf("vote bindings = %d, want 1 (latest snapshot)", len(m.bindings[vote.ID]))
	}

	// Reference-only save keeps content identical.
	if _, err := svc.Save(ctx, SaveInput{
		SegmentID: segID, UserID: 9, Role: "trustee",
		Reference: strPtr("p. 42"), Mode: WithHistory,
	}); err != nil {
		t.Fatalf("reference save: %v", err)
	}

	if got := m.segments[segID].ReviewersVote; got != 1 {
		t.Fatalf("reviewers vote = %d, want 1 after unchanged-content save", got)
	}
	if len(m.bindings[vote.ID]) != 2 {
		t.Fatalf("vote bindings = %d, want 2 (old and new snapshot)", len(m.bindings[vote.ID]))
	}
}

func TestSaveBindsPreSnapshotVotesToFirstHistory(t *testing.T) {
	m := newMemStore()
	content := strings.Repeat("t", 30)
	segID := m.seedSegment(content, strings.Repeat("o", 100), "translation_done")
	svc := New(m, time.Minute)
	ctx := context.Background()

	// Voting is possible before any snapshot exists.
	vote, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 8, Role: "reviewer", Value: 1})
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if len(m.bindings[vote.ID]) != 0 {
		t.Fatalf("vote bindings = %d, want 0 before any snapshot", len(m.bindings[vote.ID]))
	}

	if _, err := svc.Save(ctx, SaveInput{
		SegmentID: segID, UserID: 9, Role: "trustee",
		Reference: strPtr("p. 7"), Mode: WithHistory,
	}); err != nil {
		t.Fatalf("reference save: %v", err)
	}

	if len(m.histories) != 1 || m.histories[0].HistoryType != store.HistoryCreated {
		t.Fatalf("histories = %+v, want one created snapshot", m.histories)
	}
	if len(m.bindings[vote.ID]) != 1 {
		t.Fatalf("vote bindings = %d, want the first snapshot bound", len(m.bindings[vote.ID]))
	}
	if got := m.segments[segID].ReviewersVote; got != 1 {
		t.Fatalf("reviewers vote = %d, want 1", got)
	}
}

func TestSaveWithoutHistory(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", strings.Repeat("o", 100), "blank")
	svc := New(m, time.Minute)

	if _, err := svc.Save(context.Background(), SaveInput{
		SegmentID: segID, UserID: 7, Role: "translator",
		Content: strPtr(strings.Repeat("t", 30)), Mode: WithoutHistory,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(m.histories) != 0 {
		t.Fatalf("histories = %d, want 0", len(m.histories))
	}
	if got := m.segments[segID].Progress; got != "translation_done" {
		t.Fatalf("progress = %q, want translation_done", got)
	}
}

func TestSaveInvalidUpdateFields(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", strings.Repeat("o", 100), "blank")
	svc := New(m, time.Minute)

	_, err := svc.Save(context.Background(), SaveInput{
		SegmentID:    segID,
		UserID:       7,
		Role:         "translator",
		Content:      strPtr("new content for the segment"),
		UpdateFields: []string{"reference"},
		Mode:         WithHistory,
	})
	if !errors.Is(err, ErrInvalidUpdateFields) {
		t.Fatalf("err = %v, want ErrInvalidUpdateFields", err)
	}
	if len(m.histories) != 0 {
		t.Fatal("rejected save must write nothing")
	}
}

func TestSaveEditDenied(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment(strings.Repeat("t", 30), strings.Repeat("o", 100), "in_review")
	seg := m.segments[segID]
	seg.ReviewersVote = 1
	m.segments[segID] = seg
	svc := New(m, time.Minute)

	_, err := svc.Save(context.Background(), SaveInput{
		SegmentID: segID, UserID: 7, Role: "translator",
		Content: strPtr("attempted edit by translator"), Mode: WithHistory,
	})
	if !errors.Is(err, ErrNotEditable) {
		t.Fatalf("err = %v, want ErrNotEditable", err)
	}
}

func TestSaveReleasedIsSticky(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment(strings.Repeat("t", 30), strings.Repeat("o", 100), "released")
	svc := New(m, time.Minute)

	seg, err := svc.Save(context.Background(), SaveInput{
		SegmentID: segID, UserID: 9, Role: "trustee",
		Content: strPtr(strings.Repeat("u", 25)), Mode: WithHistory,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if seg.Progress != "released" {
		t.Fatalf("progress = %q, want released to stay", seg.Progress)
	}
}

func TestCastVoteLadder(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment(strings.Repeat("t", 30), strings.Repeat("o", 100), "translation_done")
	svc := New(m, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: int64(20 + i), Role: "reviewer", Value: 1}); err != nil {
			t.Fatalf("reviewer vote %d: %v", i, err)
		}
	}
	if got := m.segments[segID].Progress; got != "review_done" {
		t.Fatalf("progress = %q, want review_done at three reviewer votes", got)
	}

	if _, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 30, Role: "trustee", Value: 1}); err != nil {
		t.Fatalf("trustee vote: %v", err)
	}
	if got := m.segments[segID].Progress; got != "trustee_done" {
		t.Fatalf("progress = %q, want trustee_done", got)
	}
}

func TestCastVoteTrusteeNeedsReviewers(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment(strings.Repeat("t", 30), strings.Repeat("o", 100), "translation_done")
	svc := New(m, time.Minute)

	_, err := svc.CastVote(context.Background(), VoteInput{SegmentID: segID, UserID: 30, Role: "trustee", Value: 1})
	if !errors.Is(err, ErrVoteNotAllowed) {
		t.Fatalf("err = %v, want ErrVoteNotAllowed", err)
	}
}

func TestCastVoteRejectsOutOfRangeValue(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment(strings.Repeat("t", 30), strings.Repeat("o", 100), "translation_done")
	svc := New(m, time.Minute)
	ctx := context.Background()

	for _, value := range []int{0, 3, -3, 99} {
		if _, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 8, Role: "reviewer", Value: value}); !errors.Is(err, ErrInvalidVoteValue) {
			t.Fatalf("value %d: err = %v, want ErrInvalidVoteValue", value, err)
		}
	}
	if len(m.votes) != 0 {
		t.Fatalf("votes = %d, rejected values must write nothing", len(m.votes))
	}

	// Revokes carry no weight of their own.
	if _, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 8, Role: "reviewer", Value: 0, Revoke: true}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
}

func TestCastVoteRevoke(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment(strings.Repeat("t", 30), strings.Repeat("o", 100), "translation_done")
	svc := New(m, time.Minute)
	ctx := context.Background()

	if _, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 8, Role: "reviewer", Value: 1}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got := m.segments[segID].Progress; got != "in_review" {
		t.Fatalf("progress = %q, want in_review", got)
	}

	if _, err := svc.CastVote(ctx, VoteInput{SegmentID: segID, UserID: 8, Role: "reviewer", Value: 1, Revoke: true}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	seg := m.segments[segID]
	if seg.ReviewersVote != 0 {
		t.Fatalf("reviewers vote = %d, want 0 after revoke", seg.ReviewersVote)
	}
	if seg.Progress != "translation_done" {
		t.Fatalf("progress = %q, want translation_done after revoke", seg.Progress)
	}
	// The revoke row itself never counts.
	bound, _ := m.BoundVotes(ctx, segID)
	if len(bound) != 0 {
		t.Fatalf("bound votes = %d, want 0", len(bound))
	}
}

func TestSaveRejectsForeignFreshLock(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", strings.Repeat("o", 100), "blank")
	seg := m.segments[segID]
	holder := int64(8)
	seg.LockedBy = &holder
	seg.LastModified = time.Now()
	m.segments[segID] = seg
	svc := New(m, time.Minute)

	_, err := svc.Save(context.Background(), SaveInput{
		SegmentID: segID, UserID: 7, Role: "translator",
		Content: strPtr(strings.Repeat("t", 30)), Mode: WithHistory,
	})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
}

func TestSaveIgnoresStaleLock(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", strings.Repeat("o", 100), "blank")
	seg := m.segments[segID]
	holder := int64(8)
	seg.LockedBy = &holder
	seg.LastModified = time.Now().Add(-2 * time.Minute)
	m.segments[segID] = seg
	svc := New(m, time.Minute)

	if _, err := svc.Save(context.Background(), SaveInput{
		SegmentID: segID, UserID: 7, Role: "translator",
		Content: strPtr(strings.Repeat("t", 30)), Mode: WithHistory,
	}); err != nil {
		t.Fatalf("save past an expired lock: %v", err)
	}
}

func TestSaveAllowsOwnLock(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", strings.Repeat("o", 100), "blank")
	seg := m.segments[segID]
	holder := int64(7)
	seg.LockedBy = &holder
	seg.LastModified = time.Now()
	m.segments[segID] = seg
	svc := New(m, time.Minute)

	if _, err := svc.Save(context.Background(), SaveInput{
		SegmentID: segID, UserID: 7, Role: "translator",
		Content: strPtr(strings.Repeat("t", 30)), Mode: WithHistory,
	}); err != nil {
		t.Fatalf("save under own lock: %v", err)
	}
}

func TestLockConflict(t *testing.T) {
	m := newMemStore()
	segID := m.seedSegment("", "original", "blank")
	svc := New(m, time.Minute)
	ctx := context.Background()

	if err := svc.Lock(ctx, segID, 7); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := svc.Lock(ctx, segID, 8); !errors.Is(err, ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if err := svc.Unlock(ctx, segID, 7); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := svc.Lock(ctx, segID, 8); err != nil {
		t.Fatalf("relock: %v", err)
	}
}
