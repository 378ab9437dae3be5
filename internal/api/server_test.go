package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hireloop/agentcall/internal/schedule"
	"github.com/hireloop/agentcall/internal/session"
)

// newTestServer wires a server whose sessions never attempt a join:
// the factory schedules them an hour out, so they stay idle.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	mgr := session.NewManager()
	factory := func(id string, scheduled time.Time) (*session.Session, *schedule.Gate, error) {
		return session.New(id, session.Deps{}),
			schedule.NewGate(time.Now().Add(time.Hour), 2*time.Minute, time.Hour),
			nil
	}
	s := New(mgr, factory)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, srv
}

func postJSON(t *testing.T, url, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", url, resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCallLifecycleRoutes(t *testing.T) {
	_, srv := newTestServer(t)

	started := postJSON(t, srv.URL+"/api/call/start", `{}`)
	id, _ := started["id"].(string)
	if id == "" {
		t.Fatalf("start response missing id: %+v", started)
	}
	if started["waiting"] != true {
		t.Fatalf("scheduled call must report waiting: %+v", started)
	}

	t.Run("status resolves through the registry", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/call/" + id + "/status")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var st session.Status
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatal(err)
		}
		if st.ID != id || st.State != session.StateIdle {
			t.Fatalf("status = %+v", st)
		}
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/call/no-such/status")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("mute toggles", func(t *testing.T) {
		if out := postJSON(t, srv.URL+"/api/call/"+id+"/mute", ``); out["muted"] != true {
			t.Fatalf("first mute = %+v", out)
		}
		if out := postJSON(t, srv.URL+"/api/call/"+id+"/mute", ``); out["muted"] != false {
			t.Fatalf("second mute = %+v", out)
		}
	})

	t.Run("delete removes the session", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/call/"+id, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete status = %d", resp.StatusCode)
		}

		after, err := http.Get(srv.URL + "/api/call/" + id + "/status")
		if err != nil {
			t.Fatal(err)
		}
		after.Body.Close()
		if after.StatusCode != http.StatusNotFound {
			t.Fatalf("status after delete = %d, want 404", after.StatusCode)
		}
	})
}

func TestStartRejectsBadSchedule(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/call/start", "application/json",
		strings.NewReader(`{"scheduled_start_time":"tomorrow-ish"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
