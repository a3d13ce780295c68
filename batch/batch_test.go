package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestMap(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	got, err := Map(context.Background(), items, func(ctx context.Context, n int) (string, error) {
		return fmt.Sprint(n * n), nil
	}, WithConcurrency(2))
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	want := []string{"1", "4", "9", "16", "25"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMapFailFast(t *testing.T) {
	errBoom := errors.New("boom")
	_, err := Map(context.Background(), []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errBoom
		}
		return n, nil
	})
	if !errors.Is(err, errBoom) {
		t.Errorf("Map() error = %v, want boom", err)
	}
}

func TestMapRespectsConcurrency(t *testing.T) {
	var running, peak int32
	_, err := Map(context.Background(), make([]int, 20), func(ctx context.Context, _ int) (int, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return 0, nil
	}, WithConcurrency(3))
	if err != nil {
		t.Fatal(err)
	}
	if peak > 3 {
		t.Errorf("peak concurrency = %d, want at most 3", peak)
	}
}

func TestEach(t *testing.T) {
	errOdd := errors.New("odd")
	errs := Each(context.Background(), []int{1, 2, 3, 4}, func(ctx context.Context, n int) error {
		if n%2 == 1 {
			return errOdd
		}
		return nil
	}, WithConcurrency(0))

	if len(errs) != 4 {
		t.Fatalf("got %d error slots, want 4", len(errs))
	}
	for i, err := range errs {
		wantErr := i%2 == 0
		if (err != nil) != wantErr {
			t.Errorf("item %d error = %v, wantErr %v", i, err, wantErr)
		}
	}
}

func TestEachCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int32
	errs := Each(ctx, []int{1, 2}, func(ctx context.Context, n int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	for i, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("item %d error = %v, want Canceled", i, err)
		}
	}
	if calls != 0 {
		t.Errorf("fn ran %d times after cancellation", calls)
	}
}
