package chat

import "testing"

func TestSnapshotBufferKeepsLastN(t *testing.T) {
	sb := NewSnapshotBuffer()

	for i := 0; i < MaxBufferMessages+2; i++ {
		sb.Add("s-1", BufferedMessage{From: "anon-a", Content: string(rune('a' + i)), Ts: int64(i)})
	}

	got := sb.Get("s-1")
	if len(got) != MaxBufferMessages {
		t.Fatalf("expected %d messages, got %d", MaxBufferMessages, len(got))
	}
	// Oldest two were overwritten; the rest arrive in chronological order.
	if got[0].Ts != 2 || got[len(got)-1].Ts != int64(MaxBufferMessages+1) {
		t.Errorf("unexpected window: %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Ts <= got[i-1].Ts {
			t.Errorf("not in chronological order: %+v", got)
		}
	}
}

func TestSnapshotBufferIsolatesSessions(t *testing.T) {
	sb := NewSnapshotBuffer()
	sb.Add("s-1", BufferedMessage{Content: "one"})
	sb.Add("s-2", BufferedMessage{Content: "two"})

	if got := sb.Get("s-1"); len(got) != 1 || got[0].Content != "one" {
		t.Errorf("unexpected s-1 buffer: %+v", got)
	}
	if got := sb.Get("s-3"); len(got) != 0 {
		t.Errorf("unknown session should be empty, got %+v", got)
	}
}

func TestSnapshotBufferRemove(t *testing.T) {
	sb := NewSnapshotBuffer()
	sb.Add("s-1", BufferedMessage{Content: "one"})
	sb.Remove("s-1")

	if got := sb.Get("s-1"); len(got) != 0 {
		t.Errorf("buffer should be gone after remove, got %+v", got)
	}
}
