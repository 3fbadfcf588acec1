package cancel

import (
	"errors"
	"testing"
	"time"
)

func TestCancelOnce(t *testing.T) {
	tok := NewToken()
	if tok.Cancelled() {
		t.Fatal("fresh token should not be cancelled")
	}
	if tok.Err() != nil {
		t.Fatal("fresh token should have no cause")
	}

	first := errors.New("first")
	tok.Cancel(first)
	tok.Cancel(errors.New("second"))

	if !tok.Cancelled() {
		t.Fatal("token should be cancelled")
	}
	if !errors.Is(tok.Err(), first) {
		t.Fatalf("expected first cause to win, got %v", tok.Err())
	}
}

func TestCancelDefaultReason(t *testing.T) {
	tok := NewToken()
	tok.Cancel(nil)
	if !errors.Is(tok.Err(), ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", tok.Err())
	}
}

func TestDoneChannel(t *testing.T) {
	tok := NewToken()
	go func() {
		time.Sleep(10 * time.Millisecond)
		tok.Cancel(nil)
	}()
	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

func TestNilToken(t *testing.T) {
	var tok *Token
	if tok.Cancelled() {
		t.Fatal("nil token should report not cancelled")
	}
	if tok.Err() != nil {
		t.Fatal("nil token should have no cause")
	}
	select {
	case <-tok.Done():
		t.Fatal("nil token Done should never fire")
	default:
	}
}
