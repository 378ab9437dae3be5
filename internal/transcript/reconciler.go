package transcript

import (
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("transcript")

// Store persists the full transcript of a session. Save errors are
// logged by the reconciler, never propagated — transcript persistence
// must not disturb the call.
type Store interface {
	SaveTranscript(sessionID string, turns []Turn) error
}

// Reporter receives the end-of-session report. Fire-and-forget from the
// orchestrator's perspective.
type Reporter interface {
	ReportSessionEnded(sessionID, recordingID string, endedByParticipant bool) error
}

// ResultsChannel marks a final_transcript frame that actually carries
// recognizer results (as opposed to metadata frames on other channels).
const ResultsChannel = "Results"

// Reconciler merges agent history snapshots and local utterances into
// one ordered, deduplicated log. The processed-count cursor records how
// many snapshot turns have already been appended, so re-delivered or
// stale snapshots are no-ops.
//
// All mutation happens on the owning session's event loop; the mutex
// only protects concurrent read snapshots (status endpoints).
type Reconciler struct {
	sessionID string
	store     Store

	mu      sync.Mutex
	turns   []Turn
	cursor  int
	partial []string

	// Locally appended turns not yet confirmed by a snapshot. When the
	// agent's next snapshot echoes one of them, the echo is consumed
	// instead of re-appended.
	unconfirmed []Turn
}

func NewReconciler(sessionID string, store Store) *Reconciler {
	return &Reconciler{sessionID: sessionID, store: store}
}

// AppendLocal appends a locally known user utterance and persists.
// The live-caption buffer is superseded by the real turn and cleared.
func (r *Reconciler) AppendLocal(content string) {
	turn := Turn{Role: RoleUser, Content: content}
	r.mu.Lock()
	r.partial = r.partial[:0]
	r.turns = append(r.turns, turn)
	r.unconfirmed = append(r.unconfirmed, turn)
	r.mu.Unlock()
	r.persist()
}

// ApplySnapshot reconciles one authoritative history snapshot. Only the
// suffix beyond the cursor is appended; snapshots at or below the
// cursor are duplicates or stale and are discarded. Suffix turns that
// echo an optimistic local append confirm it instead of duplicating it.
func (r *Reconciler) ApplySnapshot(history []Turn) {
	filtered := filterSnapshot(history)

	r.mu.Lock()
	if len(filtered) <= r.cursor {
		r.mu.Unlock()
		return
	}
	grew := false
	for _, t := range filtered[r.cursor:] {
		if len(r.unconfirmed) > 0 && t == r.unconfirmed[0] {
			r.unconfirmed = r.unconfirmed[1:]
			continue
		}
		r.turns = append(r.turns, t)
		grew = true
	}
	r.cursor = len(filtered)
	r.mu.Unlock()
	if grew {
		r.persist()
	}
}

// AppendPartial accumulates a recognizer fragment into the transient
// caption buffer. Only Results-channel fragments count; the buffer is
// never persisted.
func (r *Reconciler) AppendPartial(channel, fragment string) {
	if channel != ResultsChannel || fragment == "" {
		return
	}
	r.mu.Lock()
	r.partial = append(r.partial, fragment)
	r.mu.Unlock()
}

// Partial returns the current live caption ahead of the next snapshot.
func (r *Reconciler) Partial() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.partial, " ")
}

// Turns returns a copy of the persisted log.
func (r *Reconciler) Turns() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

// Len returns the number of persisted turns.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

// Flush persists the current log unconditionally. Used at session end
// so the final report always follows a fresh save.
func (r *Reconciler) Flush() {
	r.persist()
}

func (r *Reconciler) persist() {
	if r.store == nil {
		return
	}
	turns := r.Turns()
	if err := r.store.SaveTranscript(r.sessionID, turns); err != nil {
		log.Warnf("transcript [%s]: save failed: %v", r.sessionID, err)
	}
}

// filterSnapshot drops non-conversation roles and the session-start
// sentinel before the cursor comparison.
func filterSnapshot(history []Turn) []Turn {
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			continue
		}
		if t.Content == ConversationStartMarker {
			continue
		}
		out = append(out, t)
	}
	return out
}
