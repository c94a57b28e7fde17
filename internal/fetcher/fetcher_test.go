package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventRelay/internal/source"
)

// scriptedSource fails a set number of times before succeeding.
type scriptedSource struct {
	failures int
	calls    int
	block    *source.RawBlock
	head     *source.RawBlock
}

func (s *scriptedSource) Block(ctx context.Context, height uint64) (*source.RawBlock, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("connection refused")
	}
	return s.block, nil
}

func (s *scriptedSource) FinalBlock(ctx context.Context) (*source.RawBlock, error) {
	if s.head == nil {
		return nil, errors.New("head unavailable")
	}
	return s.head, nil
}

func fastConfig() Config {
	return Config{
		Attempts:     3,
		TimeoutStart: 50 * time.Millisecond,
		TimeoutStep:  10 * time.Millisecond,
		SleepStart:   time.Millisecond,
	}
}

func mkBlock(height uint64) *source.RawBlock {
	block := &source.RawBlock{}
	block.Block.Header.Height = height
	return block
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	src := &scriptedSource{failures: 2, block: mkBlock(7)}
	f := New(src, fastConfig(), nil)

	block, err := f.Fetch(context.Background(), 7)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if block == nil || block.Block.Header.Height != 7 {
		t.Fatalf("unexpected block: %+v", block)
	}
	if src.calls != 3 {
		t.Fatalf("want 3 attempts, got %d", src.calls)
	}
}

func TestFetchExhaustsAttempts(t *testing.T) {
	src := &scriptedSource{failures: 100}
	f := New(src, fastConfig(), nil)

	if _, err := f.Fetch(context.Background(), 7); err == nil {
		t.Fatalf("expected error after attempt budget")
	}
	if src.calls != 3 {
		t.Fatalf("want exactly 3 attempts, got %d", src.calls)
	}

	// The schedule resets per height: the next call gets a fresh budget.
	src.calls = 0
	src.failures = 1
	src.block = mkBlock(7)
	if _, err := f.Fetch(context.Background(), 7); err != nil {
		t.Fatalf("retry of same height should succeed: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("want 2 attempts after reset, got %d", src.calls)
	}
}

func TestFetchSkippedHeight(t *testing.T) {
	src := &scriptedSource{}
	f := New(src, fastConfig(), nil)

	block, err := f.Fetch(context.Background(), 7)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if block != nil {
		t.Fatalf("skipped height should yield nil block")
	}
	if src.calls != 1 {
		t.Fatalf("a skipped height is not a failure, got %d attempts", src.calls)
	}
}

func TestFetchCancelled(t *testing.T) {
	src := &scriptedSource{failures: 100}
	f := New(src, fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx, 7); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestFinalHeight(t *testing.T) {
	src := &scriptedSource{head: mkBlock(100500)}
	f := New(src, fastConfig(), nil)

	height, err := f.FinalHeight(context.Background())
	if err != nil {
		t.Fatalf("final height: %v", err)
	}
	if height != 100500 {
		t.Fatalf("want 100500, got %d", height)
	}
}
