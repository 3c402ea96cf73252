package gateway

import (
	"fmt"
	"testing"
	"time"
)

func TestConnection_Enqueue(t *testing.T) {
	conn := NewConnection("conn-1", nil)

	if err := conn.Enqueue([]byte(`{"event":"test"}`)); err != nil {
		t.Fatalf("Failed to enqueue frame: %v", err)
	}

	select {
	case frame := <-conn.Send:
		if string(frame) != `{"event":"test"}` {
			t.Errorf("Unexpected frame: %s", frame)
		}
	default:
		t.Fatal("Expected a queued frame")
	}
}

func TestConnection_EnqueueAfterClose(t *testing.T) {
	conn := NewConnection("conn-1", nil)
	conn.Close()

	if err := conn.Enqueue([]byte("frame")); err == nil {
		t.Error("Expected error enqueueing on a closed connection")
	}
}

// A full send buffer must not wedge Enqueue when another goroutine is
// waiting to take the write lock (as Close does while tearing down a stale
// connection). Enqueue has to time out and drop the frame instead.
func TestConnection_EnqueueFullBufferWithPendingWriter(t *testing.T) {
	conn := NewConnection("conn-1", nil)
	conn.setUserID("user-1")

	for i := 0; i < cap(conn.Send); i++ {
		conn.Send <- []byte(fmt.Sprintf(`{"event":"fill","data":%d}`, i))
	}

	done := make(chan error, 1)
	go func() {
		done <- conn.Enqueue([]byte(`{"event":"overflow"}`))
	}()

	// Give Enqueue time to park on the full buffer, then queue a writer
	// behind its read lock.
	time.Sleep(50 * time.Millisecond)
	locked := make(chan struct{})
	go func() {
		conn.mu.Lock()
		conn.mu.Unlock()
		close(locked)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected dropped frame, got error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue deadlocked with a writer pending on the connection lock")
	}

	select {
	case <-locked:
	case <-time.After(5 * time.Second):
		t.Fatal("Pending writer never acquired the connection lock")
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	conn := NewConnection("conn-1", nil)
	conn.Close()
	conn.Close() // must not panic on the second call
}

func TestConnection_UserID(t *testing.T) {
	conn := NewConnection("conn-1", nil)
	if conn.UserID() != "" {
		t.Errorf("Expected unidentified connection, got %q", conn.UserID())
	}

	conn.setUserID("user-1")
	if conn.UserID() != "user-1" {
		t.Errorf("Expected user-1, got %q", conn.UserID())
	}
}
