// Package progress computes the translation state of a segment from its
// content lengths and aggregated vote totals, and decides which roles may
// edit or vote on it next.
package progress

import "fmt"

// Progress is the ordered state ladder of a translated segment.
type Progress int

const (
	Blank Progress = iota
	InTranslation
	TranslationDone
	InReview
	ReviewDone
	TrusteeDone
	Released
)

// Translations shorter than this never count as done, regardless of how
// short the original is.
const MinDoneLength = 20

// DoneRatio is the fraction of the original's length a translation must
// reach to count as done.
const DoneRatio = 0.2

var progressNames = map[Progress]string{
	Blank:           "blank",
	InTranslation:   "in_translation",
	TranslationDone: "translation_done",
	InReview:        "in_review",
	ReviewDone:      "review_done",
	TrusteeDone:     "trustee_done",
	Released:        "released",
}

func (p Progress) String() string {
	if name, ok := progressNames[p]; ok {
		return name
	}
	return fmt.Sprintf("progress(%d)", int(p))
}

// Parse maps a stored progress name back to its state. Unknown names map to
// Blank so that a corrupted row degrades to the least-advanced state.
func Parse(name string) Progress {
	for p, n := range progressNames {
		if n == name {
			return p
		}
	}
	return Blank
}

// Votes holds the signed per-role vote sums of one segment. A role nobody
// has voted in sums to zero.
type Votes struct {
	Translators int
	Reviewers   int
	Trustees    int
}

// Add returns the totals with one extra vote applied to its role.
func (v Votes) Add(role Role, value int) Votes {
	switch role {
	case Translator:
		v.Translators += value
	case Reviewer:
		v.Reviewers += value
	case Trustee:
		v.Trustees += value
	}
	return v
}

// Lengths holds the normalized (markup-stripped) character counts feeding
// the length gate.
type Lengths struct {
	Original    int
	Translation int
}

// DoneThreshold is the translation length at which a segment counts as
// translated: a fifth of the original, floored, never below MinDoneLength.
func DoneThreshold(originalLength int) int {
	threshold := int(DoneRatio * float64(originalLength))
	if threshold < MinDoneLength {
		return MinDoneLength
	}
	return threshold
}

// FromVotes returns the state implied by vote totals alone. The second
// result is false when no vote threshold is met.
func FromVotes(v Votes) (Progress, bool) {
	switch {
	case v.Trustees >= 1:
		return TrusteeDone, true
	case v.Reviewers >= 3:
		return ReviewDone, true
	case v.Reviewers >= 1:
		return InReview, true
	}
	return Blank, false
}

// Determine computes a segment's progress from its lengths and vote totals.
// The length gate classifies the content as blank, in translation, or done;
// vote thresholds only ever raise the result. Released is outside this
// function: it is set by the publishing flow and callers keep it sticky.
func Determine(l Lengths, v Votes) Progress {
	state := fromLengths(l)
	if voted, ok := FromVotes(v); ok && voted > state {
		state = voted
	}
	return state
}

func fromLengths(l Lengths) Progress {
	if l.Translation == 0 {
		return Blank
	}
	if l.Translation >= DoneThreshold(l.Original) {
		return TranslationDone
	}
	return InTranslation
}
