package transport

import (
	"fmt"
	"testing"

	"github.com/groundfault/groundfault/errs"
)

func TestMemoryChannelSendRecv(t *testing.T) {
	ch := NewMemoryChannel(4)
	defer func() { _ = ch.Close() }()

	if err := ch.Send([]byte("frame-1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if string(got) != "frame-1" {
		t.Errorf("unexpected frame %q", got)
	}
}

func TestMemoryChannelRecvWouldBlockWhenEmpty(t *testing.T) {
	ch := NewMemoryChannel(4)
	defer func() { _ = ch.Close() }()

	if _, err := ch.Recv(); !errs.IsWouldBlock(err) {
		t.Errorf("expected would-block, got %v", err)
	}
}

func TestMemoryChannelSendDropsWhenFull(t *testing.T) {
	ch := NewMemoryChannel(2)
	defer func() { _ = ch.Close() }()

	for i := 0; i < 2; i++ {
		if err := ch.Send([]byte(fmt.Sprintf("f%d", i))); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	if err := ch.Send([]byte("overflow")); !errs.IsWouldBlock(err) {
		t.Errorf("expected would-block on full queue, got %v", err)
	}
}

func TestMemoryChannelPreservesOrder(t *testing.T) {
	ch := NewMemoryChannel(8)
	defer func() { _ = ch.Close() }()

	for i := 0; i < 5; i++ {
		if err := ch.Send([]byte(fmt.Sprintf("f%d", i))); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		got, err := ch.Recv()
		if err != nil {
			t.Fatalf("Recv(%d) error = %v", i, err)
		}
		if string(got) != fmt.Sprintf("f%d", i) {
			t.Errorf("out of order: got %q at %d", got, i)
		}
	}
}

func TestMemoryChannelCloseDrainsBufferedFrames(t *testing.T) {
	ch := NewMemoryChannel(8)
	if err := ch.Send([]byte("queued")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv() after close error = %v", err)
	}
	if string(got) != "queued" {
		t.Errorf("unexpected frame %q", got)
	}

	if _, err := ch.Recv(); !errs.HasCode(err, errs.CodeTransport) {
		t.Errorf("expected transport error once drained, got %v", err)
	}
}

func TestMemoryChannelSendAfterClose(t *testing.T) {
	ch := NewMemoryChannel(2)
	_ = ch.Close()
	if err := ch.Send([]byte("late")); !errs.HasCode(err, errs.CodeTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("double close should be harmless, got %v", err)
	}
}
