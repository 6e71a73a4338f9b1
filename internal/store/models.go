package store

import "time"

// Work types. Manuscripts get special chapter detection (leading year
// headings are not chapters).
const (
	WorkTypeBook       = "book"
	WorkTypeManuscript = "manuscript"
	WorkTypePeriodical = "periodical"
)

// History record types: created, changed, deleted.
const (
	HistoryCreated = "+"
	HistoryChanged = "~"
	HistoryDeleted = "-"
)

type User struct {
	ID       int64
	Username string
	IsActive bool
	IsAI     bool
}

type Reputation struct {
	UserID   int64
	Language string
	Score    int
}

// OriginalWork is a source-language work. Immutable after creation.
type OriginalWork struct {
	ID        int64
	Key       string
	Title     string
	Language  string
	Type      string
	Licence   string
	Author    string
	TrusteeID *int64
	CreatedAt time.Time
}

type OriginalSegment struct {
	ID        int64
	WorkID    int64
	Position  int
	Page      int
	Tag       string
	Classes   string
	Content   string
	Reference string
}

// TranslatedWork pairs an original work with one target language. Creation
// materializes a full parallel segment sequence.
type TranslatedWork struct {
	ID            int64
	OriginalID    int64
	Language      string
	ChaptersStale bool
	LastActivity  *time.Time
	CreatedAt     time.Time
}

// TranslatedSegment is the unit of translation. Position, page, tag,
// classes and reference are copied from the original at creation and stay
// fixed. The vote columns are the signed sums of currently bound votes and
// are maintained in the same transaction as the vote rows.
type TranslatedSegment struct {
	ID              int64
	WorkID          int64
	OriginalID      int64
	Position        int
	Page            int
	Tag             string
	Classes         string
	Reference       string
	Content         string
	ChapterID       *int64
	Progress        string
	LockedBy        *int64
	LockedAt        *time.Time
	LastModified    time.Time
	TranslatorsVote int
	ReviewersVote   int
	TrusteesVote    int
}

// HistoricalSegment is an immutable snapshot of a translated segment.
// RelativeID starts at 1 per segment, strictly increments with every
// snapshot, and is never rewritten after insert.
type HistoricalSegment struct {
	ID                  int64
	SegmentID           int64
	RelativeID          int
	HistoryDate         time.Time
	HistoryUserID       *int64
	HistoryType         string
	HistoryChangeReason string
	Content             string
	Tag                 string
	Classes             string
	Reference           string
	Page                int
	Progress            string
}

// Vote is a signed evaluation cast by a user in a role. Bound votes count
// toward the segment's aggregates; a content-changing save unbinds them.
// Revoke rows record a withdrawal and are never counted.
type Vote struct {
	ID        int64
	SegmentID int64
	UserID    int64
	Role      string
	Value     int
	Revoke    bool
	Bound     bool
	Date      time.Time
}

// ImportantHeading is a derived chapter row, recomputed from the segment
// stream.
type ImportantHeading struct {
	ID              int64
	WorkID          int64
	SegmentID       int64
	Number          *int
	FirstPosition   int
	Position        int
	Tag             string
	Classes         string
	SegmentsCount   int
	TranslationDone int
	ReviewDone      int
	TrusteeDone     int
	Pretranslated   int
	Date            *time.Time
}

// WorkStatistics is the derived per-work roll-up of chapter counters.
type WorkStatistics struct {
	WorkID             int64
	Segments           int
	TranslatedCount    int
	ReviewedCount      int
	AuthorizedCount    int
	PretranslatedCount int
	TranslatedPercent  float64
	ReviewedPercent    float64
	AuthorizedPercent  float64
	Contributors       int
	LastActivity       *time.Time
}

// BaseTranslator is a named machine translator (type "ai").
type BaseTranslator struct {
	ID   int64
	Name string
	Type string
}

// BaseTranslation groups the machine translations of one original work into
// one target language. Unique per (original work, language).
type BaseTranslation struct {
	ID             int64
	OriginalWorkID int64
	Language       string
	TranslatorID   int64
}

type BaseTranslationSegment struct {
	ID                int64
	TranslationID     int64
	OriginalSegmentID int64
	Content           string
}

// Comment kinds sharing the TTL deletion mechanism.
const (
	CommentKindSegment   = "segment"
	CommentKindDeveloper = "developer"
	CommentKindIssue     = "issue"
)

type Comment struct {
	ID        int64
	Kind      string
	SegmentID *int64
	AuthorID  int64
	Content   string
	ToDelete  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
