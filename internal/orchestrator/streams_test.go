package orchestrator

import (
	"os"
	"sync"
	"testing"

	"github.com/randomizedcoder/go-fakecam/internal/config"
	"github.com/randomizedcoder/go-fakecam/internal/output"
	"github.com/randomizedcoder/go-fakecam/internal/queue"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

func TestBufferFormat(t *testing.T) {
	tests := []struct {
		in   stream.PixelFormat
		want stream.PixelFormat
	}{
		{stream.FormatOpaque, stream.FormatRGBA8888},
		{stream.FormatBlob, stream.FormatBlob},
		{stream.FormatRawSensor, stream.FormatRawSensor},
		{stream.FormatYV12, stream.FormatYV12},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := bufferFormat(config.StreamSpec{Format: tt.in}); got != tt.want {
				t.Errorf("bufferFormat(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpenStream_ResolvesOpaque(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))

	s, err := openStream(o.ctrl, config.StreamSpec{Format: stream.FormatOpaque, Width: 320, Height: 240})
	if err != nil {
		t.Fatalf("openStream() error = %v", err)
	}
	defer s.queue.Close()

	if s.format != stream.FormatRGBA8888 {
		t.Errorf("format = %s, want rgba", s.format)
	}
	if s.frameSize != 320*240*4 {
		t.Errorf("frameSize = %d, want %d", s.frameSize, 320*240*4)
	}
	if s.queue.StreamID() != s.id {
		t.Errorf("queue bound to %d, want %d", s.queue.StreamID(), s.id)
	}

	st, err := o.ctrl.Registry().Lookup(s.id)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !st.Format.Is(stream.FormatRGBA8888) {
		t.Errorf("registry format = %s, want rgba", st.Format)
	}

	if err := o.ctrl.ReleaseStream(s.id); err != nil {
		t.Errorf("ReleaseStream() error = %v", err)
	}
}

func TestOpenStream_UnsupportedSize(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(t))

	// The back camera only offers JPEG at 640x480.
	_, err := openStream(o.ctrl, config.StreamSpec{Format: stream.FormatBlob, Width: 320, Height: 240})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := len(o.ctrl.Registry().Streams()); n != 0 {
		t.Errorf("registry holds %d streams after failure, want 0", n)
	}
}

func TestDeliveryConsumer_SavesAndBroadcasts(t *testing.T) {
	dir := t.TempDir()
	saver, err := output.NewFrameSaver(dir)
	if err != nil {
		t.Fatalf("NewFrameSaver() error = %v", err)
	}

	q, err := queue.NewBufferQueue(stream.FormatBlob, 640, 480, 2, 0)
	if err != nil {
		t.Fatalf("NewBufferQueue() error = %v", err)
	}
	q.Bind(1)

	o := newTestOrchestrator(t, testConfig(t))
	c := &deliveryConsumer{logger: o.logger, saver: saver, hub: o.hub}

	var wg sync.WaitGroup
	wg.Add(1)
	go c.run(&wg, &outputStream{id: 1, format: stream.FormatBlob, queue: q})

	h, err := q.DequeueBuffer()
	if err != nil {
		t.Fatalf("DequeueBuffer() error = %v", err)
	}
	data, err := h.Lock()
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	n := copy(data, []byte{0xff, 0xd8, 0xff, 0xd9})
	if err := h.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	h.SetLen(n)
	if err := q.EnqueueBuffer(1000, h); err != nil {
		t.Fatalf("EnqueueBuffer() error = %v", err)
	}

	q.Close()
	wg.Wait()

	if saved, _, _ := saver.Stats(); saved != 1 {
		t.Errorf("saved = %d, want 1", saved)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("output dir holds %d files, want 1", len(entries))
	}
}
