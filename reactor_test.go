package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := NewReactor(nil)
	require.NoError(t, err)
	var ready sync.WaitGroup
	ready.Add(1)
	go r.Start(ready.Done)
	ready.Wait()
	t.Cleanup(func() {
		r.Stop()
		time.Sleep(10 * time.Millisecond)
	})
	return r
}

func TestReactor_nextTickOrder(t *testing.T) {
	r := newTestReactor(t)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		r.NextTick(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestReactor_timerFiresInDeadlineOrder(t *testing.T) {
	r := newTestReactor(t)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	r.SetTimeout(30*time.Millisecond, func() {
		mu.Lock()
		order = append(order, "late")
		mu.Unlock()
		close(done)
	})
	r.SetTimeout(5*time.Millisecond, func() {
		mu.Lock()
		order = append(order, "early")
		mu.Unlock()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timers never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestReactor_clearTimeoutCancels(t *testing.T) {
	r := newTestReactor(t)

	var fired bool
	h := r.SetTimeout(10*time.Millisecond, func() { fired = true })
	r.ClearTimeout(h)

	confirm := make(chan struct{})
	r.SetTimeout(30*time.Millisecond, func() { close(confirm) })
	select {
	case <-confirm:
	case <-time.After(time.Second):
		t.Fatal("confirmation timer never fired")
	}

	assert.False(t, fired, "canceled timer must not run")
}

func TestReactor_panicInCallbackDoesNotKillLoop(t *testing.T) {
	r := newTestReactor(t)

	r.NextTick(func() { panic("boom") })

	done := make(chan struct{})
	r.NextTick(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reactor stopped processing callbacks after a panic")
	}
}

func TestFuture_resolvedAfterAddDoneCallback(t *testing.T) {
	f := Resolved(42)
	var got int
	f.AddDoneCallback(func(fut *Future[int]) {
		got, _ = fut.Result()
	})
	assert.Equal(t, 42, got)
}

func TestFuture_secondResolutionIgnored(t *testing.T) {
	f := NewFuture[int]()
	f.SetResult(1)
	f.SetResult(2)
	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRunCoroutine_awaitChain(t *testing.T) {
	r := newTestReactor(t)

	step1 := NewFuture[int]()

	unitFn := unit[string](func(sent any, sendErr error) step[string] {
		if sent == nil {
			return Await[string](step1)
		}
		n := sent.(int)
		return Complete(string(rune('a' + n)))
	})

	out := runCoroutine(r, unitFn)
	step1.SetResult(1)

	done := make(chan struct{})
	out.AddDoneCallback(func(*Future[string]) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coroutine never completed")
	}
	v, err := out.Result()
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}
