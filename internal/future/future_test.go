package future_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
)

// =============================================================================
// Future Tests
// =============================================================================

func TestFuture_ResolveOnce(t *testing.T) {
	f, resolve := future.New[int]()
	if f.IsDone() {
		t.Fatal("IsDone() = true before resolve")
	}

	resolve(1, nil)
	resolve(2, errors.New("ignored"))

	v, err := f.Result()
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if v != 1 {
		t.Errorf("Result() = %d, want 1", v)
	}
}

func TestFuture_WaitTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, resolve := future.New[string]()
	defer resolve("", nil)

	_, err := f.Wait(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, future.ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
}

func TestFuture_WaitIndefinitely(t *testing.T) {
	f, resolve := future.New[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		resolve("ok", nil)
	}()

	v, err := f.Wait(context.Background(), 0)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if v != "ok" {
		t.Errorf("Wait() = %q, want %q", v, "ok")
	}
}

func TestFuture_WaitContextCancelled(t *testing.T) {
	f, resolve := future.New[int]()
	defer resolve(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Wait(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestThen_RunsWithoutWaiter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, resolve := future.New[int]()
	ran := make(chan int, 1)
	chained := future.Then(f, func(v int, err error) (int, error) {
		ran <- v
		return v * 2, err
	})

	resolve(21, nil)

	select {
	case v := <-ran:
		if v != 21 {
			t.Errorf("continuation got %d, want 21", v)
		}
	case <-time.After(time.Second):
		t.Fatal("continuation did not run")
	}

	v, err := chained.Result()
	if err != nil || v != 42 {
		t.Errorf("Then() = (%d, %v), want (42, nil)", v, err)
	}
}

// =============================================================================
// Group Tests
// =============================================================================

func TestGroupInOrder_KeepsInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fs := make([]*future.Future[int], 3)
	resolvers := make([]func(int, error), 3)
	for i := range fs {
		fs[i], resolvers[i] = future.New[int]()
	}

	g := future.GroupInOrder(fs)

	// Resolve in reverse order.
	resolvers[2](3, nil)
	resolvers[1](2, nil)
	resolvers[0](1, nil)

	got, err := g.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("GroupInOrder() error = %v", err)
	}
	if !slices.Equal(got, []int{1, 2, 3}) {
		t.Errorf("GroupInOrder() = %v, want [1 2 3]", got)
	}
}

func TestGroup_CompletionOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	first, resolveFirst := future.New[int]()
	second, resolveSecond := future.New[int]()

	g := future.Group([]*future.Future[int]{first, second})

	resolveSecond(2, nil)
	time.Sleep(20 * time.Millisecond)
	resolveFirst(1, nil)

	got, err := g.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Group() error = %v", err)
	}
	if !slices.Equal(got, []int{2, 1}) {
		t.Errorf("Group() = %v, want [2 1]", got)
	}
}

func TestGroup_FirstErrorWaitsForAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	errBoom := errors.New("boom")
	failed := future.Failed[int](errBoom)
	slow, resolveSlow := future.New[int]()

	g := future.Group([]*future.Future[int]{failed, slow})

	if _, err := g.Wait(context.Background(), 30*time.Millisecond); !errors.Is(err, future.ErrTimeout) {
		t.Fatalf("group resolved before all members: err = %v", err)
	}

	resolveSlow(1, nil)

	_, err := g.Wait(context.Background(), time.Second)
	if !errors.Is(err, errBoom) {
		t.Fatalf("Group() error = %v, want boom", err)
	}
	var gerr *future.GroupError
	if !errors.As(err, &gerr) {
		t.Fatalf("Group() error type = %T, want *GroupError", err)
	}
	if gerr.Failed != 1 || gerr.Total != 2 {
		t.Errorf("GroupError = %d/%d, want 1/2", gerr.Failed, gerr.Total)
	}
}

func TestGroup_Empty(t *testing.T) {
	got, err := future.Group[int](nil).Result()
	if err != nil {
		t.Fatalf("Group(nil) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Group(nil) = %v, want empty", got)
	}
}
