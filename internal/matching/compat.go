package matching

import "time"

// Compatible reports whether two waiting entries may be paired at the given
// instant. Rules:
//
//   - An entry is never compatible with itself or another entry owned by the
//     same user (no self-match, even across devices).
//   - A constraint is only enforced when both sides specified it: languages
//     must match when both set one, and interests must overlap in at least
//     one tag when both list some. A constraint absent on either side is
//     always compatible.
//   - An entry that has waited past relaxAfter ignores preference filters
//     for its matching attempts, which makes the pair unconstrained.
func Compatible(a, b *QueueEntry, now time.Time, relaxAfter time.Duration) bool {
	if a.QueueID == b.QueueID || a.UserID == b.UserID {
		return false
	}

	// Relaxation: a relaxed entry is treated as having no filters, and a
	// filterless side is always compatible.
	if a.WaitedFor(now) >= relaxAfter || b.WaitedFor(now) >= relaxAfter {
		return true
	}

	if a.Language != "" && b.Language != "" && a.Language != b.Language {
		return false
	}
	if len(a.Interests) > 0 && len(b.Interests) > 0 && !overlaps(a.Interests, b.Interests) {
		return false
	}
	return true
}

// overlaps reports whether the two interest lists share at least one tag.
func overlaps(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	for _, tag := range b {
		if set[tag] {
			return true
		}
	}
	return false
}
