package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCompose(t *testing.T) {
	t.Run("all sections", func(t *testing.T) {
		s := Sections{
			Policy: "be polite\n",
			Role:   "you interview backend engineers",
			Resume: "candidate: five years of Go",
			Opener: "Hi, thanks for making the time today!",
		}
		got := s.Compose()

		for _, want := range []string{"be polite", "backend engineers", "five years of Go"} {
			if !strings.Contains(got, want) {
				t.Fatalf("composed prompt missing %q:\n%s", want, got)
			}
		}
		if !strings.HasSuffix(got, "word for word. Do not paraphrase, shorten or translate it:\nHi, thanks for making the time today!") {
			t.Fatalf("opener not wrapped verbatim:\n%s", got)
		}
	})

	t.Run("empty sections skipped", func(t *testing.T) {
		s := Sections{Role: "role only"}
		if got := s.Compose(); got != "role only" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("no opener means no instruction", func(t *testing.T) {
		s := Sections{Policy: "p", Role: "r"}
		if got := s.Compose(); strings.Contains(got, "word for word") {
			t.Fatalf("verbatim instruction leaked without an opener:\n%s", got)
		}
	})

	t.Run("whitespace-only opener skipped", func(t *testing.T) {
		s := Sections{Role: "r", Opener: "   \n"}
		if got := s.Compose(); got != "r" {
			t.Fatalf("got %q", got)
		}
	})
}

func TestLoaderReadsAndReloads(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("policy.txt", "no personal questions")
	write("role.txt", "sre screen")

	l, err := NewLoader(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	s := l.Sections()
	if s.Policy != "no personal questions" || s.Role != "sre screen" {
		t.Fatalf("initial sections = %+v", s)
	}
	if s.Opener != "" {
		t.Fatalf("absent opener.txt must read as empty, got %q", s.Opener)
	}

	write("opener.txt", "Welcome to the screen.")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Sections().Opener == "Welcome to the screen." {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("loader never picked up opener.txt")
}

func TestLoaderCloseIsIdempotent(t *testing.T) {
	l, err := NewLoader(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}
