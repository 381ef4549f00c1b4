package matching

import (
	"testing"
	"time"
)

func entry(user, lang string, interests []string, joined time.Time) *QueueEntry {
	return &QueueEntry{
		QueueID:   "q-" + user,
		UserID:    user,
		AnonID:    "anon-" + user,
		Mode:      "text",
		Language:  lang,
		Interests: interests,
		JoinedAt:  joined.UnixMilli(),
	}
}

func TestCompatibleNeverPairsSameUser(t *testing.T) {
	now := time.Now()
	a := entry("u1", "", nil, now)
	b := entry("u1", "", nil, now)
	b.QueueID = "q-other"

	// Even past the relaxation threshold, a user must not meet themselves.
	if Compatible(a, b, now.Add(time.Hour), 30*time.Second) {
		t.Error("same user matched with themselves")
	}
}

func TestCompatibleUnconstrainedEntriesMatch(t *testing.T) {
	now := time.Now()
	a := entry("u1", "", nil, now)
	b := entry("u2", "", nil, now)

	if !Compatible(a, b, now, 30*time.Second) {
		t.Error("entries with no preferences should match")
	}
}

func TestCompatibleLanguage(t *testing.T) {
	now := time.Now()

	// Both set, different: no match.
	a := entry("u1", "en", nil, now)
	b := entry("u2", "fr", nil, now)
	if Compatible(a, b, now, 30*time.Second) {
		t.Error("different languages should not match")
	}

	// Both set, equal: match.
	b.Language = "en"
	if !Compatible(a, b, now, 30*time.Second) {
		t.Error("same language should match")
	}

	// Only one side constrains: the absent constraint is always compatible.
	b.Language = ""
	if !Compatible(a, b, now, 30*time.Second) {
		t.Error("one-sided language preference should match")
	}
}

func TestCompatibleInterests(t *testing.T) {
	now := time.Now()

	a := entry("u1", "", []string{"music", "games"}, now)
	b := entry("u2", "", []string{"cooking"}, now)
	if Compatible(a, b, now, 30*time.Second) {
		t.Error("disjoint interests should not match")
	}

	// A single shared interest is enough.
	b.Interests = []string{"cooking", "games"}
	if !Compatible(a, b, now, 30*time.Second) {
		t.Error("overlapping interests should match")
	}

	// One side with no interests: always compatible on that dimension.
	b.Interests = nil
	if !Compatible(a, b, now, 30*time.Second) {
		t.Error("one-sided interests should match")
	}
}

func TestCompatibleEveryConstraintMustHold(t *testing.T) {
	now := time.Now()

	// Languages agree but interests are disjoint: still no match.
	a := entry("u1", "en", []string{"music"}, now)
	b := entry("u2", "en", []string{"cooking"}, now)
	if Compatible(a, b, now, 30*time.Second) {
		t.Error("interest mismatch should veto despite language agreement")
	}
}

func TestCompatibleRelaxationAfterLongWait(t *testing.T) {
	now := time.Now()
	relaxAfter := 30 * time.Second

	a := entry("u1", "en", []string{"music"}, now.Add(-relaxAfter))
	b := entry("u2", "fr", []string{"cooking"}, now)

	// a has waited past the threshold: filters are dropped for the pair.
	if !Compatible(a, b, now, relaxAfter) {
		t.Error("relaxed entry should match despite preference mismatch")
	}

	// Neither has waited long enough: preferences still apply.
	a.JoinedAt = now.UnixMilli()
	if Compatible(a, b, now, relaxAfter) {
		t.Error("unrelaxed entries should keep their preference filters")
	}
}

func TestWaitedFor(t *testing.T) {
	now := time.Now()
	e := entry("u1", "", nil, now.Add(-45*time.Second))

	waited := e.WaitedFor(now)
	if waited < 44*time.Second || waited > 46*time.Second {
		t.Errorf("expected ~45s wait, got %s", waited)
	}
}
