package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func counting(data []byte, calls *int32) Func {
	return func(context.Context) ([]byte, error) {
		atomic.AddInt32(calls, 1)
		return data, nil
	}
}

func TestGetOrCreate_SynthesizesOnce(t *testing.T) {
	c := New(DefaultConfig())
	defer c.ReleaseAll()

	var calls int32
	fn := counting([]byte("clip-0"), &calls)

	first, err := c.GetOrCreate(context.Background(), 0, fn)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := c.GetOrCreate(context.Background(), 0, fn)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if first != second {
		t.Error("expected the same clip for the same index")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 synthesis, got %d", calls)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	c := New(DefaultConfig())
	defer c.ReleaseAll()

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("audio"), nil
	}

	const workers = 10
	var wg sync.WaitGroup
	clips := make([]*Clip, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clip, err := c.GetOrCreate(context.Background(), 3, fn)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			clips[i] = clip
		}(i)
	}

	// Give every worker time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 synthesis, got %d", calls)
	}
	for i := 1; i < workers; i++ {
		if clips[i] != clips[0] {
			t.Errorf("worker %d got a different clip", i)
		}
	}
}

func TestGetOrCreate_Error(t *testing.T) {
	c := New(DefaultConfig())
	defer c.ReleaseAll()

	boom := errors.New("boom")
	_, err := c.GetOrCreate(context.Background(), 0, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if c.Contains(0) {
		t.Error("failed synthesis must not be cached")
	}

	// A later attempt retries.
	var calls int32
	if _, err := c.GetOrCreate(context.Background(), 0, counting([]byte("ok"), &calls)); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected retry, got %d calls", calls)
	}
}

func TestGetOrCreate_ContextCancelled(t *testing.T) {
	c := New(DefaultConfig())
	defer c.ReleaseAll()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(ctx, 0, func(ctx context.Context) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("GetOrCreate did not return after cancellation")
	}
}

func TestPrefetch(t *testing.T) {
	c := New(DefaultConfig())
	defer c.ReleaseAll()

	var calls int32
	fn := counting([]byte("next"), &calls)
	c.Prefetch(1, fn)

	deadline := time.Now().Add(time.Second)
	for !c.Contains(1) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.Contains(1) {
		t.Fatal("prefetched clip not stored")
	}

	if _, err := c.GetOrCreate(context.Background(), 1, fn); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected prefetch to be reused, got %d calls", calls)
	}

	// Prefetch of a held index is a no-op.
	c.Prefetch(1, fn)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected no extra synthesis, got %d calls", calls)
	}
}

func TestPrefetch_FailureNotSurfaced(t *testing.T) {
	c := New(DefaultConfig())
	defer c.ReleaseAll()

	done := make(chan struct{})
	c.Prefetch(2, func(context.Context) ([]byte, error) {
		defer close(done)
		return nil, errors.New("engine unavailable")
	})
	<-done
	time.Sleep(10 * time.Millisecond)

	if c.Contains(2) {
		t.Error("failed prefetch must not be cached")
	}
	if c.Stats().Failures != 1 {
		t.Errorf("expected failure to be counted, got %+v", c.Stats())
	}
}

func TestReleaseAll(t *testing.T) {
	c := New(DefaultConfig())

	var calls int32
	clips := make([]*Clip, 3)
	for i := range clips {
		clip, err := c.GetOrCreate(context.Background(), i, counting([]byte("x"), &calls))
		if err != nil {
			t.Fatal(err)
		}
		clips[i] = clip
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 clips, got %d", c.Len())
	}

	c.ReleaseAll()
	c.ReleaseAll() // idempotent

	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
	for i, clip := range clips {
		if !clip.Released() {
			t.Errorf("clip %d not released", i)
		}
		if _, err := clip.WAV(); !errors.Is(err, ErrReleased) {
			t.Errorf("clip %d: expected ErrReleased, got %v", i, err)
		}
	}

	if _, err := c.GetOrCreate(context.Background(), 0, counting(nil, &calls)); !errors.Is(err, ErrReleased) {
		t.Errorf("expected ErrReleased after release, got %v", err)
	}
}

func TestReleaseAll_Empty(t *testing.T) {
	c := New(DefaultConfig())
	c.ReleaseAll()
	if !c.Released() {
		t.Error("expected cache to report released")
	}
}

func TestReleaseAll_CancelsPrefetch(t *testing.T) {
	c := New(DefaultConfig())

	started := make(chan struct{})
	finished := make(chan error, 1)
	c.Prefetch(5, func(ctx context.Context) ([]byte, error) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return []byte("late"), nil
	})

	<-started
	c.ReleaseAll()

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("prefetch was not cancelled")
	}

	time.Sleep(10 * time.Millisecond)
	if c.Len() != 0 {
		t.Error("late store must not survive ReleaseAll")
	}
}

func TestCompression(t *testing.T) {
	c := New(Config{Compress: true, CompressionLevel: 3})
	defer c.ReleaseAll()

	data := bytes.Repeat([]byte{0, 1, 2, 3}, 4096)
	clip, err := c.GetOrCreate(context.Background(), 0, func(context.Context) ([]byte, error) {
		return data, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := clip.WAV()
	if err != nil {
		t.Fatalf("WAV failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("decompressed clip differs from original")
	}

	stats := c.Stats()
	if stats.Bytes != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), stats.Bytes)
	}
	if stats.Stored >= stats.Bytes {
		t.Errorf("expected compression, stored %d of %d", stats.Stored, stats.Bytes)
	}
}
