package progress

// Role is the capacity a user acts in when editing or voting.
type Role string

const (
	Translator Role = "translator"
	Reviewer   Role = "reviewer"
	Trustee    Role = "trustee"
)

// ValidRole reports whether name is one of the three known roles.
func ValidRole(name string) bool {
	switch Role(name) {
	case Translator, Reviewer, Trustee:
		return true
	}
	return false
}

// CanEdit reports whether a role may change the segment's content.
// Translators lose the segment once review has started or any positive
// reviewer or trustee total exists; reviewers lose it to trustees.
func CanEdit(role Role, p Progress, v Votes) bool {
	switch role {
	case Translator:
		return p < InReview && v.Reviewers < 1 && v.Trustees < 1
	case Reviewer:
		return v.Trustees < 1
	case Trustee:
		return true
	}
	return false
}

// CanVote reports whether a role may cast a vote on the segment.
// Trustees only weigh in once reviewers have accumulated a total of two.
func CanVote(role Role, p Progress, v Votes) bool {
	switch role {
	case Translator, Reviewer:
		return p >= InTranslation
	case Trustee:
		return v.Reviewers >= 2
	}
	return false
}

// VotingDone reports whether a role's voting stage is complete for the
// segment's current totals.
func VotingDone(role Role, v Votes) bool {
	switch role {
	case Translator:
		return v.Translators >= 0
	case Reviewer:
		return v.Reviewers >= 2
	case Trustee:
		return v.Trustees >= 1
	}
	return false
}
