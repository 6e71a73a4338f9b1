package progress

// Privilege names the reputation-gated actions of the platform.
type Privilege string

const (
	AddTranslation    Privilege = "add_translation"
	ReviewTranslation Privilege = "review_translation"
	TrusteePrivilege  Privilege = "trustee"
)

// Reputation scores a user must have in a work's language before acting in
// the matching role. Users without a reputation row score zero.
var reputationThresholds = map[Privilege]int{
	AddTranslation:    10,
	ReviewTranslation: 100,
	TrusteePrivilege:  1000,
}

// PrivilegeFor maps a role onto the privilege its actions require.
func PrivilegeFor(role Role) Privilege {
	switch role {
	case Reviewer:
		return ReviewTranslation
	case Trustee:
		return TrusteePrivilege
	}
	return AddTranslation
}

// Eligible reports whether a reputation score clears the privilege's
// threshold. Unknown privileges never pass.
func Eligible(score int, privilege Privilege) bool {
	threshold, ok := reputationThresholds[privilege]
	if !ok {
		return false
	}
	return score >= threshold
}
