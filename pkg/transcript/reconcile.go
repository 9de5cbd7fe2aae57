package transcript

// DefaultMinLocalTurns is the local turn count below which a provider's
// authoritative transcript replaces the locally observed one.
const DefaultMinLocalTurns = 3

// Source names which transcript [Reconcile] picked.
type Source string

const (
	SourceLocal         Source = "local"
	SourceAuthoritative Source = "authoritative"
)

// Reconcile chooses between a locally observed transcript and the provider's
// authoritative post-call transcript.
//
// The authoritative transcript wins when it is non-empty and the local one
// is suspiciously short (fewer than minLocalTurns turns) or contains no agent
// turn at all. Otherwise the local transcript is kept. A minLocalTurns of zero
// or less means [DefaultMinLocalTurns].
func Reconcile(local, authoritative []Turn, minLocalTurns int) ([]Turn, Source) {
	if minLocalTurns <= 0 {
		minLocalTurns = DefaultMinLocalTurns
	}
	if len(authoritative) == 0 {
		return local, SourceLocal
	}
	if len(local) < minLocalTurns || countRole(local, RoleAgent) == 0 {
		return authoritative, SourceAuthoritative
	}
	return local, SourceLocal
}
