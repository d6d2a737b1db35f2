package mqttcap

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

func newTestCapture() *Capture {
	return &Capture{
		frames: make(chan []byte, bufferSize),
		logger: log.Nop(),
	}
}

func TestNext_ReturnsPushedUtterance(t *testing.T) {
	t.Parallel()

	c := newTestCapture()
	c.push([]byte("help emergency"))

	got, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(got) != "help emergency" {
		t.Errorf("frame = %q, want %q", got, "help emergency")
	}
}

func TestNext_ContextCancellation(t *testing.T) {
	t.Parallel()

	c := newTestCapture()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want deadline exceeded", err)
	}
}

func TestPush_FullBufferDropsOldest(t *testing.T) {
	t.Parallel()

	c := newTestCapture()
	for i := 0; i < bufferSize+3; i++ {
		c.push([]byte(fmt.Sprintf("u-%d", i)))
	}

	got, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	// the three oldest were evicted
	if string(got) != "u-3" {
		t.Errorf("frame = %q, want u-3 after eviction", got)
	}
}

func TestPush_CopiesPayload(t *testing.T) {
	t.Parallel()

	c := newTestCapture()
	payload := []byte("original")
	c.push(payload)
	payload[0] = 'X'

	got, _ := c.Next(context.Background())
	if string(got) != "original" {
		t.Errorf("frame = %q, push must copy the payload", got)
	}
}
