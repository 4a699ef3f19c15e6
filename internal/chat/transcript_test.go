package chat

import (
	"fmt"
	"testing"
)

func msg(i int) Message {
	return Message{
		ID:       fmt.Sprintf("m%d", i),
		SenderID: "userA",
		Content:  fmt.Sprintf("message %d", i),
		SentAt:   int64(1000 + i),
	}
}

func TestTranscriptBuffer_ChronologicalOrder(t *testing.T) {
	tb := NewTranscriptBuffer()
	for i := 0; i < 5; i++ {
		tb.Add("s1", msg(i))
	}

	got := tb.Get("s1")
	if len(got) != 5 {
		t.Fatalf("Get returned %d messages, want 5", len(got))
	}
	for i, m := range got {
		if m.ID != fmt.Sprintf("m%d", i) {
			t.Errorf("position %d holds %s, want m%d", i, m.ID, i)
		}
	}
}

func TestTranscriptBuffer_EvictsOldestAtCapacity(t *testing.T) {
	tb := NewTranscriptBuffer()
	total := MaxTranscriptMessages + 50
	for i := 0; i < total; i++ {
		tb.Add("s1", msg(i))
	}

	got := tb.Get("s1")
	if len(got) != MaxTranscriptMessages {
		t.Fatalf("buffer holds %d messages, want cap %d", len(got), MaxTranscriptMessages)
	}
	if got[0].ID != fmt.Sprintf("m%d", total-MaxTranscriptMessages) {
		t.Errorf("oldest retained = %s, want m%d", got[0].ID, total-MaxTranscriptMessages)
	}
	if got[len(got)-1].ID != fmt.Sprintf("m%d", total-1) {
		t.Errorf("newest retained = %s, want m%d", got[len(got)-1].ID, total-1)
	}
}

func TestTranscriptBuffer_SessionsAreIndependent(t *testing.T) {
	tb := NewTranscriptBuffer()
	tb.Add("s1", msg(1))
	tb.Add("s2", msg(2))

	if got := tb.Get("s1"); len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("s1 transcript = %+v", got)
	}
	if got := tb.Get("s2"); len(got) != 1 || got[0].ID != "m2" {
		t.Errorf("s2 transcript = %+v", got)
	}
	if tb.Len() != 2 {
		t.Errorf("Len = %d, want 2", tb.Len())
	}
}

func TestTranscriptBuffer_UnknownSessionIsEmpty(t *testing.T) {
	tb := NewTranscriptBuffer()
	if got := tb.Get("nope"); len(got) != 0 {
		t.Errorf("unknown session returned %d messages", len(got))
	}
}

func TestTranscriptBuffer_Remove(t *testing.T) {
	tb := NewTranscriptBuffer()
	tb.Add("s1", msg(1))
	tb.Remove("s1")

	if tb.Len() != 0 {
		t.Errorf("Len = %d after Remove, want 0", tb.Len())
	}
	if got := tb.Get("s1"); len(got) != 0 {
		t.Errorf("removed session still returns %d messages", len(got))
	}
	// Removing twice is fine.
	tb.Remove("s1")
}
