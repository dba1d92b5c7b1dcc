package activation

import (
	"os"
	"strconv"
	"testing"
)

func TestListeners_NoEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners without activation env, got %d", len(listeners))
	}
}

func TestListeners_WrongPid(t *testing.T) {
	// Activation aimed at another process is ignored, not an error.
	t.Setenv("LISTEN_PID", "1")
	t.Setenv("LISTEN_FDS", "1")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners for foreign pid, got %d", len(listeners))
	}
}

func TestListeners_InvalidPid(t *testing.T) {
	t.Setenv("LISTEN_PID", "not-a-pid")
	t.Setenv("LISTEN_FDS", "1")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for malformed LISTEN_PID")
	}
}

func TestListeners_InvalidFDs(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "banana")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for malformed LISTEN_FDS")
	}
}

func TestListeners_ZeroFDs(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "0")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners for zero fds, got %d", len(listeners))
	}
}

func TestListen_FallsBackToTCP(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if ln.Addr().Network() != "tcp" {
		t.Errorf("network = %s, want tcp", ln.Addr().Network())
	}
}
