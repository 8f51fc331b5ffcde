// ABOUTME: Tests for the queue
// ABOUTME: Load semantics, permutation invariant, shuffle pivot, repeat modes, preload marks
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"pgregory.net/rapid"
)

func tracks(n int) []Track {
	out := make([]Track, n)
	for i := range out {
		out[i] = Track{QueueItemID: uint64(i + 1), TrackID: fmt.Sprintf("t%d", i+1)}
	}
	return out
}

func TestLoadDefaultsCursorToZero(t *testing.T) {
	q := New(slog.Default(), nil)
	q.Load(tracks(5), Version{Major: 1}, 0)
	if q.TrackCount() != 5 {
		t.Fatalf("count = %d", q.TrackCount())
	}
	cur, ok := q.Current()
	if !ok || cur.QueueItemID != 1 {
		t.Fatalf("current = %+v, ok=%v", cur, ok)
	}
}

func TestLoadWithCurrentItem(t *testing.T) {
	q := New(slog.Default(), nil)
	q.Load(tracks(5), Version{}, 3)
	cur, _ := q.Current()
	if cur.QueueItemID != 3 {
		t.Fatalf("current item = %d, want 3", cur.QueueItemID)
	}
}

func TestLoadWithUnknownItemFallsBackToZero(t *testing.T) {
	q := New(slog.Default(), nil)
	q.Load(tracks(5), Version{}, 99)
	cur, _ := q.Current()
	if cur.QueueItemID != 1 {
		t.Fatalf("current item = %d, want 1", cur.QueueItemID)
	}
}

func TestLoadAtPosition(t *testing.T) {
	q := New(slog.Default(), nil)
	q.LoadAtPosition(tracks(5), Version{}, 2)
	cur, _ := q.Current()
	if cur.QueueItemID != 3 {
		t.Fatalf("current item = %d, want 3", cur.QueueItemID)
	}
}

func TestShuffledIndexesAlwaysPermutation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := New(slog.Default(), nil)
		n := rapid.IntRange(0, 12).Draw(t, "n")
		q.Load(tracks(n), Version{}, 0)

		ops := rapid.IntRange(1, 20).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				q.SetShuffle(true, uint64(rapid.IntRange(0, n).Draw(t, "pivot")))
			case 1:
				q.SetShuffle(false, 0)
			case 2:
				q.Advance()
			case 3:
				q.Previous()
			}
			q.mu.Lock()
			perm := append([]int(nil), q.shuffled...)
			q.mu.Unlock()
			sort.Ints(perm)
			for j, v := range perm {
				if v != j {
					t.Fatalf("shuffled is not a permutation: %v", perm)
				}
			}
		}
	})
}

func TestShufflePivotKeepsCurrent(t *testing.T) {
	// A,B,C,D,E with current item 2 (B); shuffle with pivot 2 must keep B.
	for i := 0; i < 20; i++ {
		q := New(slog.Default(), nil)
		q.Load(tracks(5), Version{}, 2)
		q.SetShuffle(true, 2)
		cur, ok := q.Current()
		if !ok || cur.TrackID != "t2" {
			t.Fatalf("current after shuffle = %+v", cur)
		}
		q.SetShuffle(false, 2)
		cur, ok = q.Current()
		if !ok || cur.TrackID != "t2" {
			t.Fatalf("current after unshuffle = %+v", cur)
		}
	}
}

func TestRepeatOne(t *testing.T) {
	q := New(slog.Default(), nil)
	q.Load(tracks(3), Version{}, 2)
	q.SetRepeat(RepeatOne)

	next, ok := q.Advance()
	if !ok || next.QueueItemID != 2 {
		t.Fatalf("advance = %+v", next)
	}
	prev, ok := q.Previous()
	if !ok || prev.QueueItemID != 2 {
		t.Fatalf("previous = %+v", prev)
	}
}

func TestRepeatAllWraps(t *testing.T) {
	q := New(slog.Default(), nil)
	q.Load(tracks(3), Version{}, 3)
	q.SetRepeat(RepeatAll)

	next, _ := q.Advance()
	if next.QueueItemID != 1 {
		t.Fatalf("advance past end = %+v, want wrap to 1", next)
	}
	prev, _ := q.Previous()
	if prev.QueueItemID != 3 {
		t.Fatalf("previous past start = %+v, want wrap to 3", prev)
	}
}

func TestRepeatOffBoundaries(t *testing.T) {
	q := New(slog.Default(), nil)
	q.Load(tracks(3), Version{}, 3)

	if _, ok := q.Advance(); ok {
		t.Fatal("advance past last should return nothing")
	}

	q.Load(tracks(3), Version{}, 0)
	prev, ok := q.Previous()
	if !ok || prev.QueueItemID != 1 {
		t.Fatalf("previous past first = %+v, want first", prev)
	}
}

func TestEmptyQueue(t *testing.T) {
	q := New(slog.Default(), nil)
	if _, ok := q.Current(); ok {
		t.Fatal("empty queue has no current")
	}
	if _, ok := q.Advance(); ok {
		t.Fatal("empty queue cannot advance")
	}
	if _, ok := q.Previous(); ok {
		t.Fatal("empty queue has no previous")
	}
}

type recordingLoader struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (l *recordingLoader) Preload(_ context.Context, trackID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, trackID)
	if l.fail[trackID] {
		return fmt.Errorf("preload %s failed", trackID)
	}
	return nil
}

func TestPreloadTickWarmsWindow(t *testing.T) {
	loader := &recordingLoader{}
	q := New(slog.Default(), loader)
	q.Load(tracks(5), Version{}, 0)

	q.preloadTick(context.Background())
	if len(loader.calls) != PreloadCount {
		t.Fatalf("preloaded %v, want %d tracks", loader.calls, PreloadCount)
	}

	// Marked tracks are not fetched again.
	q.preloadTick(context.Background())
	if len(loader.calls) != PreloadCount {
		t.Fatalf("marked tracks were refetched: %v", loader.calls)
	}
}

func TestPreloadFailureRetries(t *testing.T) {
	loader := &recordingLoader{fail: map[string]bool{"t2": true}}
	q := New(slog.Default(), loader)
	q.Load(tracks(3), Version{}, 0)

	q.preloadTick(context.Background())
	q.preloadTick(context.Background())

	count := 0
	for _, c := range loader.calls {
		if c == "t2" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("failed track fetched %d times across two ticks, want 2", count)
	}
}

func TestShuffleInvalidatesPreloadMarks(t *testing.T) {
	loader := &recordingLoader{}
	q := New(slog.Default(), loader)
	q.Load(tracks(5), Version{}, 0)
	q.preloadTick(context.Background())

	q.SetShuffle(true, 1)
	before := len(loader.calls)
	q.preloadTick(context.Background())
	if len(loader.calls) == before {
		t.Fatal("shuffle should drop preload marks and trigger refetches")
	}
}
