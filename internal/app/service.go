// Package app wires the translation engine together and exposes its
// operations to the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"langify/api/internal/chapter"
	"langify/api/internal/comments"
	"langify/api/internal/htmltext"
	"langify/api/internal/pretranslate"
	"langify/api/internal/progress"
	"langify/api/internal/search"
	"langify/api/internal/segment"
	"langify/api/internal/stats"
	"langify/api/internal/store"
)

// Store is the persistence surface of the orchestration layer. Multi-row
// writes such as preseeding run through InTransaction.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	EnsureUser(ctx context.Context, username string) (store.User, error)
	GetUser(ctx context.Context, userID int64) (store.User, error)
	ReputationScore(ctx context.Context, userID int64, language string) (int, error)
	SetReputation(ctx context.Context, userID int64, language string, score int) error
	InsertOriginalWork(ctx context.Context, work store.OriginalWork, segments []store.OriginalSegment) (store.OriginalWork, error)
	OriginalWorkByKey(ctx context.Context, key string) (store.OriginalWork, error)
	OriginalWorkByID(ctx context.Context, workID int64) (store.OriginalWork, error)
	OriginalSegments(ctx context.Context, workID int64) ([]store.OriginalSegment, error)
	InsertTranslatedWork(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error)
	TranslatedWorkByID(ctx context.Context, workID int64) (store.TranslatedWork, error)
	TranslatedWork(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error)
	MarkWorkActivity(ctx context.Context, workID int64, at time.Time) error
	TranslatedSegment(ctx context.Context, segmentID int64) (store.TranslatedSegment, error)
	TranslatedSegmentAt(ctx context.Context, workID int64, position int) (store.TranslatedSegment, error)
	SegmentsWithOriginals(ctx context.Context, workID int64) ([]store.SegmentWithOriginal, error)
	UpdateSegmentContent(ctx context.Context, seg store.TranslatedSegment) error
	InsertHistory(ctx context.Context, h store.HistoricalSegment) (store.HistoricalSegment, error)
	HistoryForSegment(ctx context.Context, segmentID int64) ([]store.HistoricalSegment, error)
	UpdateHistoryChangeReason(ctx context.Context, historyID int64, reason string) error
	HeadingsForWork(ctx context.Context, workID int64) ([]store.ImportantHeading, error)
	WorkStatistics(ctx context.Context, workID int64) (store.WorkStatistics, error)
	BaseTranslation(ctx context.Context, originalWorkID int64, language string) (store.BaseTranslation, error)
	PretranslatedSegmentsForWork(ctx context.Context, originalWorkID int64, language string) ([]store.PretranslatedSegment, error)
	EnsureAIUser(ctx context.Context, username string) (store.User, error)
}

type pgStore struct {
	*store.PostgresStore
}

// NewStore adapts the Postgres store so transactions stay behind Store.
func NewStore(ps *store.PostgresStore) Store {
	return pgStore{ps}
}

func (p pgStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	return p.PostgresStore.InTransaction(ctx, func(tx *store.PostgresStore) error {
		return fn(pgStore{tx})
	})
}

// Service orchestrates the domain services behind the HTTP surface.
type Service struct {
	store    Store
	segments *segment.Service
	chapters *chapter.Recomputer
	stats    *stats.Aggregator
	worker   *pretranslate.Worker
	comments *comments.Service
	search   *search.Service
	log      *log.Logger
}

func New(st Store, segments *segment.Service, chapters *chapter.Recomputer, aggregator *stats.Aggregator, worker *pretranslate.Worker, commentSvc *comments.Service, searchSvc *search.Service, logger *log.Logger) *Service {
	return &Service{
		store:    st,
		segments: segments,
		chapters: chapters,
		stats:    aggregator,
		worker:   worker,
		comments: commentSvc,
		search:   searchSvc,
		log:      logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RefreshDerivedData recomputes chapters for works whose segment stream
// changed and rolls the chapter counters up into the work statistics.
// The scheduler runs this periodically.
func (s *Service) RefreshDerivedData(ctx context.Context, limit int) {
	works, err := s.chapters.RunStale(ctx, limit)
	if err != nil {
		s.log.Printf("app: recompute stale chapters: %v", err)
		return
	}
	for _, workID := range works {
		if _, err := s.stats.Aggregate(ctx, workID); err != nil {
			s.log.Printf("app: aggregate statistics for work %d: %v", workID, err)
		}
	}
}

// SweepLocks releases editing locks whose holders went away.
func (s *Service) SweepLocks(ctx context.Context) {
	released, err := s.segments.SweepLocks(ctx)
	if err != nil {
		s.log.Printf("app: sweep stale locks: %v", err)
		return
	}
	if released > 0 {
		s.log.Printf("app: released %d stale segment locks", released)
	}
}

var languagePattern = regexp.MustCompile(`^[a-z]{2}(-[a-zA-Z]{2})?$`)

// SegmentInput is one source segment of a work being ingested.
type SegmentInput struct {
	Position  int    `json:"position"`
	Page      int    `json:"page"`
	Tag       string `json:"tag"`
	Classes   string `json:"classes"`
	Content   string `json:"content"`
	Reference string `json:"reference"`
}

type CreateOriginalWorkInput struct {
	Key      string         `json:"key"`
	Title    string         `json:"title"`
	Language string         `json:"language"`
	Type     string         `json:"type"`
	Licence  string         `json:"licence"`
	Author   string         `json:"author"`
	Segments []SegmentInput `json:"segments"`
}

// CreateOriginalWork ingests a source work with its segment sequence.
func (s *Service) CreateOriginalWork(ctx context.Context, in CreateOriginalWorkInput) (store.OriginalWork, error) {
	fields := map[string][]string{}
	if in.Key == "" {
		fields["key"] = append(fields["key"], "must not be empty")
	}
	if in.Title == "" {
		fields["title"] = append(fields["title"], "must not be empty")
	}
	if !languagePattern.MatchString(in.Language) {
		fields["language"] = append(fields["language"], "invalid language code")
	}
	switch in.Type {
	case store.WorkTypeBook, store.WorkTypeManuscript, store.WorkTypePeriodical:
	default:
		fields["type"] = append(fields["type"], "unknown work type")
	}
	if len(in.Segments) == 0 {
		fields["segments"] = append(fields["segments"], "must not be empty")
	}
	// Positions must be dense and 1-based so chapter detection and the
	// parallel translated sequence can index by position.
	for i, seg := range in.Segments {
		if seg.Position != i+1 {
			fields["segments"] = append(fields["segments"],
				fmt.Sprintf("position at index %d is %d, want %d", i, seg.Position, i+1))
			break
		}
	}
	if len(fields) > 0 {
		return store.OriginalWork{}, validationFailure(fields)
	}

	segments := make([]store.OriginalSegment, len(in.Segments))
	for i, seg := range in.Segments {
		tag := seg.Tag
		if tag == "" {
			tag = "p"
		}
		segments[i] = store.OriginalSegment{
			Position:  seg.Position,
			Page:      seg.Page,
			Tag:       tag,
			Classes:   seg.Classes,
			Content:   seg.Content,
			Reference: seg.Reference,
		}
	}
	work, err := s.store.InsertOriginalWork(ctx, store.OriginalWork{
		Key:      in.Key,
		Title:    in.Title,
		Language: in.Language,
		Type:     in.Type,
		Licence:  in.Licence,
		Author:   in.Author,
	}, segments)
	if err != nil {
		return store.OriginalWork{}, err
	}
	return work, nil
}

// CreateTranslatedWork opens a work for translation into a language. Every
// original segment gets a blank counterpart; positions with an existing
// machine translation are pre-seeded with it, and the rest are queued for
// the translation worker.
func (s *Service) CreateTranslatedWork(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error) {
	if !languagePattern.MatchString(language) {
		return store.TranslatedWork{}, validationFailure(map[string][]string{"language": {"invalid language code"}})
	}
	original, err := s.store.OriginalWorkByID(ctx, originalID)
	if err != nil {
		return store.TranslatedWork{}, err
	}
	if original.Language == language {
		return store.TranslatedWork{}, validationFailure(map[string][]string{"language": {"must differ from the original language"}})
	}

	work, err := s.store.InsertTranslatedWork(ctx, original.ID, language)
	if err != nil {
		return store.TranslatedWork{}, err
	}

	if err := s.preseed(ctx, work, original); err != nil {
		return store.TranslatedWork{}, err
	}

	if s.worker != nil {
		if n, err := s.worker.EnqueueMissing(ctx, original.ID, language); err != nil {
			s.log.Printf("app: queue pretranslation for work %d: %v", work.ID, err)
		} else if n > 0 {
			s.log.Printf("app: queued %d segments of work %d for machine translation", n, work.ID)
		}
	}

	if s.search != nil {
		s.search.IndexWork(search.WorkRecord{
			ID:       strconv.FormatInt(work.ID, 10),
			Title:    original.Title,
			Author:   original.Author,
			Language: language,
		})
	}
	return work, nil
}

// preseed copies existing machine translations into the fresh blank
// segments, crediting the AI user with a creation snapshot each. The whole
// seed runs in one transaction so a mid-seed failure leaves no half-seeded
// work behind.
func (s *Service) preseed(ctx context.Context, work store.TranslatedWork, original store.OriginalWork) error {
	pretranslated, err := s.store.PretranslatedSegmentsForWork(ctx, original.ID, work.Language)
	if err != nil {
		return err
	}
	if len(pretranslated) == 0 {
		return nil
	}

	// One base translation per (original, language); a second would mean
	// the unique constraint was bypassed.
	if _, err := s.store.BaseTranslation(ctx, original.ID, work.Language); err != nil {
		return fmt.Errorf("verify base translation: %w", err)
	}

	return s.store.InTransaction(ctx, func(tx Store) error {
		aiUser, err := tx.EnsureAIUser(ctx, pretranslate.AIUsername)
		if err != nil {
			return err
		}
		originals, err := tx.OriginalSegments(ctx, original.ID)
		if err != nil {
			return err
		}
		originalLengths := make(map[int64]int, len(originals))
		for _, o := range originals {
			originalLengths[o.ID] = htmltext.Length(o.Content)
		}

		now := time.Now()
		for _, pre := range pretranslated {
			seg, err := tx.TranslatedSegmentAt(ctx, work.ID, pre.Position)
			if err != nil {
				return fmt.Errorf("load segment at position %d: %w", pre.Position, err)
			}
			seg.Content = pre.Content
			seg.Progress = progress.Determine(progress.Lengths{
				Original:    originalLengths[pre.OriginalSegmentID],
				Translation: htmltext.Length(pre.Content),
			}, progress.Votes{}).String()
			seg.LastModified = now
			if err := tx.UpdateSegmentContent(ctx, seg); err != nil {
				return err
			}
			if _, err := tx.InsertHistory(ctx, store.HistoricalSegment{
				SegmentID:           seg.ID,
				HistoryUserID:       &aiUser.ID,
				HistoryType:         store.HistoryCreated,
				HistoryChangeReason: "DeepL translation",
				Content:             seg.Content,
				Tag:                 seg.Tag,
				Classes:             seg.Classes,
				Reference:           seg.Reference,
				Page:                seg.Page,
				Progress:            seg.Progress,
			}); err != nil {
				return err
			}
		}
		return tx.MarkWorkActivity(ctx, work.ID, now)
	})
}

// SaveSegmentInput is the HTTP-facing shape of a segment save.
type SaveSegmentInput struct {
	SegmentID    int64
	UserID       int64
	Role         string
	Content      *string
	Tag          *string
	Reference    *string
	UpdateFields []string
	WithHistory  bool
	ChangeReason string
}

// SaveSegment gates the caller's reputation and runs the save pipeline.
func (s *Service) SaveSegment(ctx context.Context, in SaveSegmentInput) (store.TranslatedSegment, error) {
	seg, err := s.store.TranslatedSegment(ctx, in.SegmentID)
	if err != nil {
		return store.TranslatedSegment{}, err
	}
	work, err := s.store.TranslatedWorkByID(ctx, seg.WorkID)
	if err != nil {
		return store.TranslatedSegment{}, err
	}
	if err := s.checkReputation(ctx, in.UserID, in.Role, work.Language); err != nil {
		return store.TranslatedSegment{}, err
	}
	mode := segment.WithoutHistory
	if in.WithHistory {
		mode = segment.WithHistory
	}
	saved, err := s.segments.Save(ctx, segment.SaveInput{
		SegmentID:    in.SegmentID,
		UserID:       in.UserID,
		Role:         in.Role,
		Content:      in.Content,
		Tag:          in.Tag,
		Reference:    in.Reference,
		UpdateFields: in.UpdateFields,
		Mode:         mode,
		ChangeReason: in.ChangeReason,
	})
	if err != nil {
		return store.TranslatedSegment{}, err
	}

	s.indexSegment(work, saved)
	return saved, nil
}

// CastVote gates the caller's reputation and records the vote.
func (s *Service) CastVote(ctx context.Context, segmentID, userID int64, role string, value int, revoke bool) (store.Vote, error) {
	seg, err := s.store.TranslatedSegment(ctx, segmentID)
	if err != nil {
		return store.Vote{}, err
	}
	work, err := s.store.TranslatedWorkByID(ctx, seg.WorkID)
	if err != nil {
		return store.Vote{}, err
	}
	if err := s.checkReputation(ctx, userID, role, work.Language); err != nil {
		return store.Vote{}, err
	}
	return s.segments.CastVote(ctx, segment.VoteInput{
		SegmentID: segmentID,
		UserID:    userID,
		Role:      role,
		Value:     value,
		Revoke:    revoke,
	})
}

// checkReputation refuses a role whose privilege the user's score in the
// language does not reach. A missing reputation row scores zero.
func (s *Service) checkReputation(ctx context.Context, userID int64, role, language string) error {
	if !progress.ValidRole(role) {
		return validationFailure(map[string][]string{"role": {"unknown role"}})
	}
	privilege := progress.PrivilegeFor(progress.Role(role))
	score, err := s.store.ReputationScore(ctx, userID, language)
	if err != nil {
		return err
	}
	if !progress.Eligible(score, privilege) {
		return permissionDenied(string(privilege))
	}
	return nil
}

func (s *Service) LockSegment(ctx context.Context, segmentID, userID int64) error {
	return s.segments.Lock(ctx, segmentID, userID)
}

func (s *Service) UnlockSegment(ctx context.Context, segmentID, userID int64) error {
	return s.segments.Unlock(ctx, segmentID, userID)
}

// SegmentView pairs a translated segment with its original for the editor.
type SegmentView struct {
	store.TranslatedSegment
	OriginalContent string `json:"originalContent"`
	Pretranslated   bool   `json:"pretranslated"`
}

func (s *Service) WorkSegments(ctx context.Context, workID int64) ([]SegmentView, error) {
	rows, err := s.store.SegmentsWithOriginals(ctx, workID)
	if err != nil {
		return nil, err
	}
	views := make([]SegmentView, len(rows))
	for i, row := range rows {
		views[i] = SegmentView{
			TranslatedSegment: row.TranslatedSegment,
			OriginalContent:   row.OriginalContent,
			Pretranslated:     row.Pretranslated,
		}
	}
	return views, nil
}

func (s *Service) SegmentHistory(ctx context.Context, segmentID int64) ([]store.HistoricalSegment, error) {
	return s.store.HistoryForSegment(ctx, segmentID)
}

// AmendChangeReason rewrites the free-text reason of a snapshot. The
// snapshot body stays immutable.
func (s *Service) AmendChangeReason(ctx context.Context, historyID int64, reason string) error {
	return s.store.UpdateHistoryChangeReason(ctx, historyID, reason)
}

// TOCEntry is one chapter in a work's table of contents.
type TOCEntry struct {
	Number          *int       `json:"number"`
	Title           string     `json:"title"`
	Position        int        `json:"position"`
	FirstPosition   int        `json:"firstPosition"`
	SegmentsCount   int        `json:"segmentsCount"`
	TranslationDone int        `json:"translationDone"`
	ReviewDone      int        `json:"reviewDone"`
	TrusteeDone     int        `json:"trusteeDone"`
	Pretranslated   int        `json:"pretranslated"`
	Date            *time.Time `json:"date"`
}

// TableOfContents lists the work's chapters with stripped title samples.
func (s *Service) TableOfContents(ctx context.Context, workID int64) ([]TOCEntry, error) {
	headings, err := s.store.HeadingsForWork(ctx, workID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.SegmentsWithOriginals(ctx, workID)
	if err != nil {
		return nil, err
	}
	byPosition := make(map[int]store.SegmentWithOriginal, len(rows))
	for _, row := range rows {
		byPosition[row.Position] = row
	}

	entries := make([]TOCEntry, len(headings))
	for i, h := range headings {
		title := ""
		if row, ok := byPosition[h.Position]; ok {
			title = chapter.Sample(row.Content, row.OriginalContent)
		}
		entries[i] = TOCEntry{
			Number:          h.Number,
			Title:           title,
			Position:        h.Position,
			FirstPosition:   h.FirstPosition,
			SegmentsCount:   h.SegmentsCount,
			TranslationDone: h.TranslationDone,
			ReviewDone:      h.ReviewDone,
			TrusteeDone:     h.TrusteeDone,
			Pretranslated:   h.Pretranslated,
			Date:            h.Date,
		}
	}
	return entries, nil
}

func (s *Service) WorkStatistics(ctx context.Context, workID int64) (store.WorkStatistics, error) {
	return s.store.WorkStatistics(ctx, workID)
}

func (s *Service) OriginalWork(ctx context.Context, key string) (store.OriginalWork, error) {
	return s.store.OriginalWorkByKey(ctx, key)
}

func (s *Service) Translation(ctx context.Context, originalID int64, language string) (store.TranslatedWork, error) {
	return s.store.TranslatedWork(ctx, originalID, language)
}

// RegisterUser creates the username on first sight and returns the existing
// row afterwards.
func (s *Service) RegisterUser(ctx context.Context, username string) (store.User, error) {
	if username == "" {
		return store.User{}, validationFailure(map[string][]string{"username": {"must not be empty"}})
	}
	return s.store.EnsureUser(ctx, username)
}

func (s *Service) User(ctx context.Context, userID int64) (store.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *Service) SetReputation(ctx context.Context, userID int64, language string, score int) error {
	if !languagePattern.MatchString(language) {
		return validationFailure(map[string][]string{"language": {"invalid language code"}})
	}
	if score < 0 {
		return validationFailure(map[string][]string{"score": {"must not be negative"}})
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.store.SetReputation(ctx, userID, language, score)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Comments() *comments.Service {
	return s.comments
}

func (s *Service) indexSegment(work store.TranslatedWork, seg store.TranslatedSegment) {
	if s.search == nil {
		return
	}
	s.search.IndexSegment(search.SegmentRecord{
		ID:       strconv.FormatInt(seg.ID, 10),
		WorkID:   strconv.FormatInt(work.ID, 10),
		Language: work.Language,
		Position: seg.Position,
		Content:  htmltext.Strip(seg.Content),
		Progress: seg.Progress,
	})
}

// mapServiceError translates pipeline sentinels into domain errors for the
// HTTP layer.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, segment.ErrInvalidUpdateFields):
		return domainError(http.StatusBadRequest, "INVALID_UPDATE_FIELDS", err.Error(), nil)
	case errors.Is(err, segment.ErrNotEditable):
		return domainError(http.StatusConflict, "NOT_EDITABLE", err.Error(), nil)
	case errors.Is(err, segment.ErrVoteNotAllowed):
		return domainError(http.StatusConflict, "VOTE_NOT_ALLOWED", err.Error(), nil)
	case errors.Is(err, segment.ErrInvalidVoteValue):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILURE", err.Error(), map[string][]string{
			"value": {"must be one of -2, -1, 1, 2"},
		})
	case errors.Is(err, segment.ErrLocked):
		return domainError(http.StatusConflict, "SEGMENT_LOCKED", err.Error(), nil)
	case errors.Is(err, segment.ErrUnknownRole):
		return domainError(http.StatusBadRequest, "UNKNOWN_ROLE", err.Error(), nil)
	case errors.Is(err, comments.ErrContentTooLong), errors.Is(err, comments.ErrUnknownKind):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILURE", err.Error(), nil)
	case errors.Is(err, store.ErrConsistency):
		return domainError(http.StatusInternalServerError, "CONSISTENCY_VIOLATION", err.Error(), nil)
	}
	return err
}
