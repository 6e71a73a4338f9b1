package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"langify/api/internal/store"
)

type fakeStore struct {
	inTransaction                func(ctx context.Context, fn func(tx Store) error) error
	ping                         func(ctx context.Context) error
	ensureUser                   func(ctx context.Context, username string) (store.User, error)
	getUser                      func(ctx context.Context, userID int64) (store.User, error)
	reputationScore              func(ctx context.Context, userID int64, language string) (int, error)
	setReputation                func(ctx context.Context, userID int64, language string, score int) error
	insertOriginalWork           func(ctx context.Context, work store.OriginalWork, segments []store.OriginalSegment) (store.OriginalWork, error)
	originalWorkByKey            func(ctx context.Context, key string) (store.OriginalWork, error)
	originalWorkByID             func(ctx context.Context, workID int64) (store.OriginalWork, error)
	originalSegments             func(ctx context.Context, workID int64) ([]store.OriginalSegment, error)
	insertTranslatedWork         func(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error)
	translatedWorkByID           func(ctx context.Context, workID int64) (store.TranslatedWork, error)
	translatedWork               func(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error)
	markWorkActivity             func(ctx context.Context, workID int64, at time.Time) error
	translatedSegment            func(ctx context.Context, segmentID int64) (store.TranslatedSegment, error)
	translatedSegmentAt          func(ctx context.Context, workID int64, position int) (store.TranslatedSegment, error)
	segmentsWithOriginals        func(ctx context.Context, workID int64) ([]store.SegmentWithOriginal, error)
	updateSegmentContent         func(ctx context.Context, seg store.TranslatedSegment) error
	insertHistory                func(ctx context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error)
	historyForSegment            func(ctx context.Context, segmentID int64) ([]store.HistoricalSegment, error)
	updateHistoryChangeReason    func(ctx context.Context, historyID int64, reason string) error
	headingsForWork              func(ctx context.Context, workID int64) ([]store.ImportantHeading, error)
	workStatistics               func(ctx context.Context, workID int64) (store.WorkStatistics, error)
	baseTranslation              func(ctx context.Context, originalWorkID int64, language string) (store.BaseTranslation, error)
	pretranslatedSegmentsForWork func(ctx context.Context, originalWorkID int64, language string) ([]store.PretranslatedSegment, error)
	ensureAIUser                 func(ctx context.Context, username string) (store.User, error)
}

func (f *fakeStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	if f.inTransaction != nil {
		return f.inTransaction(ctx, fn)
	}
	return fn(f)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.ping != nil {
		return f.ping(ctx)
	}
	return nil
}

func (f *fakeStore) EnsureUser(ctx context.Context, username string) (store.User, error) {
	if f.ensureUser != nil {
		return f.ensureUser(ctx, username)
	}
	return store.User{ID: 1, Username: username, IsActive: true}, nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (store.User, error) {
	if f.getUser != nil {
		return f.getUser(ctx, userID)
	}
	return store.User{ID: userID, Username: "user", IsActive: true}, nil
}

func (f *fakeStore) ReputationScore(ctx context.Context, userID int64, language string) (int, error) {
	if f.reputationScore != nil {
		return f.reputationScore(ctx, userID, language)
	}
	return 0, nil
}

func (f *fakeStore) SetReputation(ctx context.Context, userID int64, language string, score int) error {
	if f.setReputation != nil {
		return f.setReputation(ctx, userID, language, score)
	}
	return nil
}

func (f *fakeStore) InsertOriginalWork(ctx context.Context, work store.OriginalWork, segments []store.OriginalSegment) (store.OriginalWork, error) {
	if f.insertOriginalWork != nil {
		return f.insertOriginalWork(ctx, work, segments)
	}
	work.ID = 1
	return work, nil
}

func (f *fakeStore) OriginalWorkByKey(ctx context.Context, key string) (store.OriginalWork, error) {
	if f.originalWorkByKey != nil {
		return f.originalWorkByKey(ctx, key)
	}
	return store.OriginalWork{}, errNotWired
}

func (f *fakeStore) OriginalWorkByID(ctx context.Context, workID int64) (store.OriginalWork, error) {
	if f.originalWorkByID != nil {
		return f.originalWorkByID(ctx, workID)
	}
	return store.OriginalWork{}, errNotWired
}

func (f *fakeStore) OriginalSegments(ctx context.Context, workID int64) ([]store.OriginalSegment, error) {
	if f.originalSegments != nil {
		return f.originalSegments(ctx, workID)
	}
	return nil, nil
}

func (f *fakeStore) InsertTranslatedWork(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error) {
	if f.insertTranslatedWork != nil {
		return f.insertTranslatedWork(ctx, originalID, language)
	}
	return store.TranslatedWork{}, errNotWired
}

func (f *fakeStore) TranslatedWorkByID(ctx context.Context, workID int64) (store.TranslatedWork, error) {
	if f.translatedWorkByID != nil {
		return f.translatedWorkByID(ctx, workID)
	}
	return store.TranslatedWork{}, errNotWired
}

func (f *fakeStore) TranslatedWork(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error) {
	if f.translatedWork != nil {
		return f.translatedWork(ctx, originalID, language)
	}
	return store.TranslatedWork{}, errNotWired
}

func (f *fakeStore) MarkWorkActivity(ctx context.Context, workID int64, at time.Time) error {
	if f.markWorkActivity != nil {
		return f.markWorkActivity(ctx, workID, at)
	}
	return nil
}

func (f *fakeStore) TranslatedSegment(ctx context.Context, segmentID int64) (store.TranslatedSegment, error) {
	if f.translatedSegment != nil {
		return f.translatedSegment(ctx, segmentID)
	}
	return store.TranslatedSegment{}, errNotWired
}

func (f *fakeStore) TranslatedSegmentAt(ctx context.Context, workID int64, position int) (store.TranslatedSegment, error) {
	if f.translatedSegmentAt != nil {
		return f.translatedSegmentAt(ctx, workID, position)
	}
	return store.TranslatedSegment{}, errNotWired
}

func (f *fakeStore) SegmentsWithOriginals(ctx context.Context, workID int64) ([]store.SegmentWithOriginal, error) {
	if f.segmentsWithOriginals != nil {
		return f.segmentsWithOriginals(ctx, workID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateSegmentContent(ctx context.Context, seg store.TranslatedSegment) error {
	if f.updateSegmentContent != nil {
		return f.updateSegmentContent(ctx, seg)
	}
	return nil
}

func (f *fakeStore) InsertHistory(ctx context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error) {
	if f.insertHistory != nil {
		return f.insertHistory(ctx, h)
	}
	h.ID = 1
	h.RelativeID = 1
	return h, nil
}

func (f *fakeStore) HistoryForSegment(ctx context.Context, segmentID int64) ([]store.HistoricalSegment, error) {
	if f.historyForSegment != nil {
		return f.historyForSegment(ctx, segmentID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateHistoryChangeReason(ctx context.Context, historyID int64, reason string) error {
	if f.updateHistoryChangeReason != nil {
		return f.updateHistoryChangeReason(ctx, historyID, reason)
	}
	return nil
}

func (f *fakeStore) HeadingsForWork(ctx context.Context, workID int64) ([]store.ImportantHeading, error) {
	if f.headingsForWork != nil {
		return f.headingsForWork(ctx, workID)
	}
	return nil, nil
}

func (f *fakeStore) WorkStatistics(ctx context.Context, workID int64) (store.WorkStatistics, error) {
	if f.workStatistics != nil {
		return f.workStatistics(ctx, workID)
	}
	return store.WorkStatistics{WorkID: workID}, nil
}

func (f *fakeStore) BaseTranslation(ctx context.Context, originalWorkID int64, language string) (store.BaseTranslation, error) {
	if f.baseTranslation != nil {
		return f.baseTranslation(ctx, originalWorkID, language)
	}
	return store.BaseTranslation{ID: 1, OriginalWorkID: originalWorkID, Language: language}, nil
}

func (f *fakeStore) PretranslatedSegmentsForWork(ctx context.Context, originalWorkID int64, language string) ([]store.PretranslatedSegment, error) {
	if f.pretranslatedSegmentsForWork != nil {
		return f.pretranslatedSegmentsForWork(ctx, originalWorkID, language)
	}
	return nil, nil
}

func (f *fakeStore) EnsureAIUser(ctx context.Context, username string) (store.User, error) {
	if f.ensureAIUser != nil {
		return f.ensureAIUser(ctx, username)
	}
	return store.User{ID: 99, Username: username, IsAI: true}, nil
}

var errNotWired = errors.New("fake store call not wired")

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestService(st Store) *Service {
	return New(st, nil, nil, nil, nil, nil, nil, testLogger())
}

func TestCreateOriginalWorkValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateOriginalWork(context.Background(), CreateOriginalWorkInput{
		Key:      "",
		Title:    "Faust",
		Language: "german",
		Type:     "poster",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("want DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", domainErr.Status)
	}
	fields, ok := domainErr.Details.(map[string][]string)
	if !ok {
		t.Fatalf("details = %T, want field map", domainErr.Details)
	}
	for _, name := range []string{"key", "language", "type", "segments"} {
		if len(fields[name]) == 0 {
			t.Errorf("missing validation message for %q", name)
		}
	}
}

func TestCreateOriginalWorkDefaultsTag(t *testing.T) {
	var inserted []store.OriginalSegment
	st := &fakeStore{
		insertOriginalWork: func(ctx context.Context, work store.OriginalWork, segments []store.OriginalSegment) (store.OriginalWork, error) {
			inserted = segments
			work.ID = 7
			return work, nil
		},
	}
	svc := newTestService(st)

	work, err := svc.CreateOriginalWork(context.Background(), CreateOriginalWorkInput{
		Key:      "faust-1",
		Title:    "Faust",
		Language: "de",
		Type:     store.WorkTypeBook,
		Segments: []SegmentInput{
			{Position: 1, Content: "<h2>Nacht</h2>", Tag: "h2"},
			{Position: 2, Content: "Habe nun, ach!"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if work.ID != 7 {
		t.Fatalf("work id = %d, want 7", work.ID)
	}
	if inserted[0].Tag != "h2" || inserted[1].Tag != "p" {
		t.Fatalf("tags = %q, %q; want h2, p", inserted[0].Tag, inserted[1].Tag)
	}
}

func TestCreateTranslatedWorkRejectsSameLanguage(t *testing.T) {
	st := &fakeStore{
		originalWorkByID: func(ctx context.Context, workID int64) (store.OriginalWork, error) {
			return store.OriginalWork{ID: workID, Language: "de", Type: store.WorkTypeBook}, nil
		},
	}
	svc := newTestService(st)

	_, err := svc.CreateTranslatedWork(context.Background(), 1, "de")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("want 422 DomainError, got %v", err)
	}
}

func TestCreateTranslatedWorkPreseedsMachineTranslations(t *testing.T) {
	segments := map[int]store.TranslatedSegment{
		1: {ID: 11, WorkID: 5, OriginalID: 101, Position: 1, Tag: "p"},
		2: {ID: 12, WorkID: 5, OriginalID: 102, Position: 2, Tag: "p"},
	}
	var savedContent []string
	var histories []store.HistoricalSegment
	activityMarked := false

	st := &fakeStore{
		originalWorkByID: func(ctx context.Context, workID int64) (store.OriginalWork, error) {
			return store.OriginalWork{ID: workID, Language: "de", Type: store.WorkTypeBook}, nil
		},
		insertTranslatedWork: func(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error) {
			return store.TranslatedWork{ID: 5, OriginalID: originalID, Language: language}, nil
		},
		pretranslatedSegmentsForWork: func(ctx context.Context, originalWorkID int64, language string) ([]store.PretranslatedSegment, error) {
			return []store.PretranslatedSegment{
				{BaseTranslationSegment: store.BaseTranslationSegment{OriginalSegmentID: 101, Content: "The night was long and dark around."}, Position: 1},
			}, nil
		},
		originalSegments: func(ctx context.Context, workID int64) ([]store.OriginalSegment, error) {
			return []store.OriginalSegment{
				{ID: 101, Position: 1, Content: "Die Nacht war lang und dunkel ringsum."},
				{ID: 102, Position: 2, Content: "Habe nun, ach!"},
			}, nil
		},
		translatedSegmentAt: func(ctx context.Context, workID int64, position int) (store.TranslatedSegment, error) {
			return segments[position], nil
		},
		updateSegmentContent: func(ctx context.Context, seg store.TranslatedSegment) error {
			savedContent = append(savedContent, seg.Content)
			if seg.Progress != "translation_done" {
				t.Errorf("seeded progress = %q, want translation_done", seg.Progress)
			}
			return nil
		},
		insertHistory: func(ctx context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error) {
			histories = append(histories, h)
			h.ID = int64(len(histories))
			h.RelativeID = 1
			return h, nil
		},
		markWorkActivity: func(ctx context.Context, workID int64, at time.Time) error {
			activityMarked = true
			return nil
		},
	}
	svc := newTestService(st)

	work, err := svc.CreateTranslatedWork(context.Background(), 1, "en")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if work.ID != 5 {
		t.Fatalf("work id = %d, want 5", work.ID)
	}
	if len(savedContent) != 1 || savedContent[0] != "The night was long and dark around." {
		t.Fatalf("saved content = %v", savedContent)
	}
	if len(histories) != 1 {
		t.Fatalf("histories = %d, want 1", len(histories))
	}
	h := histories[0]
	if h.HistoryType != store.HistoryCreated {
		t.Errorf("history type = %q, want %q", h.HistoryType, store.HistoryCreated)
	}
	if h.HistoryUserID == nil || *h.HistoryUserID != 99 {
		t.Errorf("history user = %v, want AI user 99", h.HistoryUserID)
	}
	if h.HistoryChangeReason != "DeepL translation" {
		t.Errorf("change reason = %q", h.HistoryChangeReason)
	}
	if !activityMarked {
		t.Error("work activity not marked")
	}
}

func TestCreateTranslatedWorkPreseedsInOneTransaction(t *testing.T) {
	inTx := false
	txCalls := 0

	st := &fakeStore{}
	st.inTransaction = func(ctx context.Context, fn func(tx Store) error) error {
		txCalls++
		inTx = true
		defer func() { inTx = false }()
		return fn(st)
	}
	st.originalWorkByID = func(ctx context.Context, workID int64) (store.OriginalWork, error) {
		return store.OriginalWork{ID: workID, Language: "de", Type: store.WorkTypeBook}, nil
	}
	st.insertTranslatedWork = func(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error) {
		return store.TranslatedWork{ID: 5, OriginalID: originalID, Language: language}, nil
	}
	st.pretranslatedSegmentsForWork = func(ctx context.Context, originalWorkID int64, language string) ([]store.PretranslatedSegment, error) {
		return []store.PretranslatedSegment{
			{BaseTranslationSegment: store.BaseTranslationSegment{OriginalSegmentID: 101, Content: "The night was long."}, Position: 1},
		}, nil
	}
	st.originalSegments = func(ctx context.Context, workID int64) ([]store.OriginalSegment, error) {
		return []store.OriginalSegment{{ID: 101, Position: 1, Content: "Die Nacht war lang."}}, nil
	}
	st.translatedSegmentAt = func(ctx context.Context, workID int64, position int) (store.TranslatedSegment, error) {
		if !inTx {
			t.Error("segment load ran outside the seed transaction")
		}
		return store.TranslatedSegment{ID: 11, WorkID: 5, OriginalID: 101, Position: position, Tag: "p"}, nil
	}
	st.updateSegmentContent = func(ctx context.Context, seg store.TranslatedSegment) error {
		if !inTx {
			t.Error("segment write ran outside the seed transaction")
		}
		return nil
	}
	st.insertHistory = func(ctx context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error) {
		if !inTx {
			t.Error("history write ran outside the seed transaction")
		}
		h.ID = 1
		h.RelativeID = 1
		return h, nil
	}
	st.markWorkActivity = func(ctx context.Context, workID int64, at time.Time) error {
		if !inTx {
			t.Error("activity mark ran outside the seed transaction")
		}
		return nil
	}
	svc := newTestService(st)

	if _, err := svc.CreateTranslatedWork(context.Background(), 1, "en"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if txCalls != 1 {
		t.Fatalf("transactions = %d, want one for the whole seed", txCalls)
	}
}

func TestSaveSegmentReputationGate(t *testing.T) {
	st := &fakeStore{
		translatedSegment: func(ctx context.Context, segmentID int64) (store.TranslatedSegment, error) {
			return store.TranslatedSegment{ID: segmentID, WorkID: 5}, nil
		},
		translatedWorkByID: func(ctx context.Context, workID int64) (store.TranslatedWork, error) {
			return store.TranslatedWork{ID: workID, Language: "en"}, nil
		},
		reputationScore: func(ctx context.Context, userID int64, language string) (int, error) {
			return 9, nil
		},
	}
	svc := newTestService(st)

	content := "new text"
	_, err := svc.SaveSegment(context.Background(), SaveSegmentInput{
		SegmentID: 1, UserID: 2, Role: "translator", Content: &content, WithHistory: true,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("want DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusForbidden || domainErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("got %d %s", domainErr.Status, domainErr.Code)
	}
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["privilege"] != "add_translation" {
		t.Fatalf("details = %v", domainErr.Details)
	}
}

func TestCastVoteReputationGate(t *testing.T) {
	st := &fakeStore{
		translatedSegment: func(ctx context.Context, segmentID int64) (store.TranslatedSegment, error) {
			return store.TranslatedSegment{ID: segmentID, WorkID: 5}, nil
		},
		translatedWorkByID: func(ctx context.Context, workID int64) (store.TranslatedWork, error) {
			return store.TranslatedWork{ID: workID, Language: "en"}, nil
		},
		reputationScore: func(ctx context.Context, userID int64, language string) (int, error) {
			return 99, nil
		},
	}
	svc := newTestService(st)

	_, err := svc.CastVote(context.Background(), 1, 2, "reviewer", 1, false)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("want PERMISSION_DENIED, got %v", err)
	}

	_, err = svc.CastVote(context.Background(), 1, 2, "editor", 1, false)
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("unknown role: want 422, got %v", err)
	}
}

func TestTableOfContents(t *testing.T) {
	two := 2
	date := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		headingsForWork: func(ctx context.Context, workID int64) ([]store.ImportantHeading, error) {
			return []store.ImportantHeading{
				{WorkID: workID, Position: 3, FirstPosition: 1, Number: &two, SegmentsCount: 4, TranslationDone: 2, Date: &date},
			}, nil
		},
		segmentsWithOriginals: func(ctx context.Context, workID int64) ([]store.SegmentWithOriginal, error) {
			return []store.SegmentWithOriginal{
				{TranslatedSegment: store.TranslatedSegment{ID: 1, Position: 3, Content: ""}, OriginalContent: "<h2>Zweites Kapitel</h2>"},
			}, nil
		},
	}
	svc := newTestService(st)

	entries, err := svc.TableOfContents(context.Background(), 5)
	if err != nil {
		t.Fatalf("toc: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Title != "Zweites Kapitel" {
		t.Errorf("title = %q, want untranslated heading text", e.Title)
	}
	if e.Number == nil || *e.Number != 2 {
		t.Errorf("number = %v, want 2", e.Number)
	}
	if e.FirstPosition != 1 || e.Position != 3 {
		t.Errorf("positions = %d/%d", e.FirstPosition, e.Position)
	}
	if e.SegmentsCount != 4 || e.TranslationDone != 2 {
		t.Errorf("counters = %d/%d", e.SegmentsCount, e.TranslationDone)
	}
}

func TestSetReputationValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	if err := svc.SetReputation(context.Background(), 1, "deutsch", 10); err == nil {
		t.Fatal("want error for invalid language")
	}
	if err := svc.SetReputation(context.Background(), 1, "de", -1); err == nil {
		t.Fatal("want error for negative score")
	}
	if err := svc.SetReputation(context.Background(), 1, "de", 100); err != nil {
		t.Fatalf("set reputation: %v", err)
	}
}
