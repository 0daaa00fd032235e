package gpio

import (
	"errors"
	"testing"
	"time"
)

func TestWaiter_Timeout(t *testing.T) {
	w := newWaiter()
	ok, err := w.wait(5 * time.Millisecond)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v want false,nil", ok, err)
	}
}

func TestWaiter_CoalescesEdges(t *testing.T) {
	w := newWaiter()
	w.notify()
	w.notify()
	w.notify()

	ok, err := w.wait(time.Second)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v want true,nil", ok, err)
	}
	ok, err = w.wait(5 * time.Millisecond)
	if err != nil || ok {
		t.Fatalf("second wait ok=%v err=%v want false,nil", ok, err)
	}
}

func TestWaiter_CloseUnblocks(t *testing.T) {
	w := newWaiter()
	go func() {
		time.Sleep(5 * time.Millisecond)
		w.close()
	}()
	_, err := w.wait(time.Minute)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want %v", err, ErrClosed)
	}
	// Idempotent.
	w.close()
}
