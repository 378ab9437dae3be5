package transcript

import (
	"errors"
	"fmt"
	"testing"
)

// recordingStore counts saves and keeps the last saved log.
type recordingStore struct {
	saves int
	last  []Turn
	err   error
}

func (s *recordingStore) SaveTranscript(_ string, turns []Turn) error {
	s.saves++
	s.last = turns
	return s.err
}

func snapshotOfLen(n int) []Turn {
	// Every agent snapshot leads with the session-start sentinel and a
	// system entry; neither may survive filtering.
	h := []Turn{
		{Role: RoleUser, Content: ConversationStartMarker},
		{Role: "system", Content: "you are an interviewer"},
	}
	for i := 0; i < n; i++ {
		role := RoleAssistant
		if i%2 == 1 {
			role = RoleUser
		}
		h = append(h, Turn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return h
}

func TestCursorSuffixAppend(t *testing.T) {
	store := &recordingStore{}
	r := NewReconciler("s1", store)

	// Snapshot lengths 3, 3, 5, 5, 7 after filtering: only growth is
	// appended, and only growth persists.
	for _, n := range []int{3, 3, 5, 5, 7} {
		r.ApplySnapshot(snapshotOfLen(n))
	}

	if got := r.Len(); got != 7 {
		t.Fatalf("persisted turns = %d, want 7", got)
	}
	if store.saves != 3 {
		t.Fatalf("persist calls = %d, want 3", store.saves)
	}

	turns := r.Turns()
	for i, turn := range turns {
		want := fmt.Sprintf("turn %d", i)
		if turn.Content != want {
			t.Fatalf("turn %d = %q, want %q (log reordered?)", i, turn.Content, want)
		}
	}
}

func TestStaleSnapshotDiscarded(t *testing.T) {
	store := &recordingStore{}
	r := NewReconciler("s1", store)

	r.ApplySnapshot(snapshotOfLen(4))
	before := r.Turns()

	// A shorter (stale) snapshot must change nothing.
	r.ApplySnapshot(snapshotOfLen(2))

	after := r.Turns()
	if len(after) != len(before) {
		t.Fatalf("log length changed from %d to %d on stale snapshot", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("turn %d was altered by a stale snapshot", i)
		}
	}
	if store.saves != 1 {
		t.Fatalf("persist calls = %d, want 1", store.saves)
	}
}

func TestSentinelAndRoleFiltering(t *testing.T) {
	r := NewReconciler("s1", nil)

	r.ApplySnapshot([]Turn{
		{Role: RoleUser, Content: ConversationStartMarker},
		{Role: "system", Content: "policy text"},
		{Role: "tool", Content: "lookup result"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "hi"},
	})

	turns := r.Turns()
	if len(turns) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(turns))
	}
	if turns[0].Content != "hello" || turns[1].Content != "hi" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestLocalAppendClearsPartial(t *testing.T) {
	store := &recordingStore{}
	r := NewReconciler("s1", store)

	r.AppendPartial(ResultsChannel, "so I")
	r.AppendPartial(ResultsChannel, "was thinking")
	if got := r.Partial(); got != "so I was thinking" {
		t.Fatalf("partial = %q", got)
	}

	// Non-results fragments never reach the caption buffer.
	r.AppendPartial("Metadata", "ignored")
	if got := r.Partial(); got != "so I was thinking" {
		t.Fatalf("partial after metadata frame = %q", got)
	}

	r.AppendLocal("so I was thinking about the role")
	if r.Partial() != "" {
		t.Fatal("local append must clear the caption buffer")
	}
	if r.Len() != 1 {
		t.Fatalf("log length = %d, want 1", r.Len())
	}
	if store.saves != 1 {
		t.Fatalf("persist calls = %d, want 1", store.saves)
	}
	if store.last[0].Role != RoleUser {
		t.Fatalf("local turn role = %q, want user", store.last[0].Role)
	}
}

func TestSnapshotEchoOfLocalAppendNotDuplicated(t *testing.T) {
	store := &recordingStore{}
	r := NewReconciler("s1", store)

	// Agent asks, the participant answers locally, then the agent's next
	// snapshot echoes both turns. The echoed answer confirms the local
	// append; it must not land in the log twice.
	r.ApplySnapshot([]Turn{
		{Role: RoleAssistant, Content: "what do you work on?"},
	})
	r.AppendLocal("I am a Go developer")
	r.ApplySnapshot([]Turn{
		{Role: RoleAssistant, Content: "what do you work on?"},
		{Role: RoleUser, Content: "I am a Go developer"},
	})

	turns := r.Turns()
	if len(turns) != 2 {
		t.Fatalf("log length = %d, want 2: %+v", len(turns), turns)
	}
	if turns[0].Role != RoleAssistant || turns[1].Role != RoleUser {
		t.Fatalf("unexpected roles: %+v", turns)
	}
	// The confirming snapshot added nothing, so it persisted nothing.
	if store.saves != 2 {
		t.Fatalf("persist calls = %d, want 2", store.saves)
	}

	// A genuinely new turn after the confirmation still appends.
	r.ApplySnapshot([]Turn{
		{Role: RoleAssistant, Content: "what do you work on?"},
		{Role: RoleUser, Content: "I am a Go developer"},
		{Role: RoleAssistant, Content: "which projects?"},
	})
	if got := r.Len(); got != 3 {
		t.Fatalf("log length = %d, want 3", got)
	}
}

func TestLocalAppendBetweenSnapshotTurns(t *testing.T) {
	r := NewReconciler("s1", nil)

	// The agent speaks again before its snapshot confirms the local
	// answer: the echo may not sit at the head of the suffix.
	r.AppendLocal("hello?")
	r.ApplySnapshot([]Turn{
		{Role: RoleAssistant, Content: "hi, can you hear me?"},
		{Role: RoleUser, Content: "hello?"},
	})

	turns := r.Turns()
	if len(turns) != 2 {
		t.Fatalf("log length = %d, want 2: %+v", len(turns), turns)
	}
}

func TestSaveErrorsAreAbsorbed(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	r := NewReconciler("s1", store)

	// Must not panic or drop the in-memory log.
	r.AppendLocal("hello")
	if r.Len() != 1 {
		t.Fatalf("log length = %d, want 1", r.Len())
	}
}
