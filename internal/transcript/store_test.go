package transcript

import (
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "agentcall.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	turns := []Turn{
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "thanks"},
	}

	t.Run("save and load", func(t *testing.T) {
		if err := store.SaveTranscript("s1", turns); err != nil {
			t.Fatal(err)
		}
		got, err := store.LoadTranscript("s1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0] != turns[0] || got[1] != turns[1] {
			t.Fatalf("loaded %+v, want %+v", got, turns)
		}
	})

	t.Run("save rewrites the full log", func(t *testing.T) {
		grown := append(turns, Turn{Role: RoleAssistant, Content: "tell me more"})
		if err := store.SaveTranscript("s1", grown); err != nil {
			t.Fatal(err)
		}
		got, err := store.LoadTranscript("s1")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("loaded %d turns, want 3", len(got))
		}
		if got[2].Content != "tell me more" {
			t.Fatalf("last turn = %q", got[2].Content)
		}
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		got, err := store.LoadTranscript("other")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("unexpected turns for unknown session: %+v", got)
		}
	})

	t.Run("session report upserts", func(t *testing.T) {
		if err := store.ReportSessionEnded("s1", "", false); err != nil {
			t.Fatal(err)
		}
		// A second report for the same session replaces the first.
		if err := store.ReportSessionEnded("s1", "rec-9", true); err != nil {
			t.Fatal(err)
		}

		var recID string
		var ended int
		row := store.db.QueryRow(
			`SELECT recording_id, ended_by_participant FROM session_reports WHERE session_id = ?`, "s1")
		if err := row.Scan(&recID, &ended); err != nil {
			t.Fatal(err)
		}
		if recID != "rec-9" || ended != 1 {
			t.Fatalf("report = (%q, %d), want (rec-9, 1)", recID, ended)
		}
	})
}
