package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
	zero, _ := e.Unwrap()
	if zero != 0 {
		t.Fatal("Err value should be zero")
	}
}

func TestErrf(t *testing.T) {
	r := Errf[string]("code %d", 404)
	_, err := r.Unwrap()
	if err == nil || err.Error() != "code 404" {
		t.Fatal("Errf wrong message")
	}
}

func TestMustPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Must should panic on Err")
		}
	}()
	Err[int](errors.New("boom")).Must()
}

func TestMustOk(t *testing.T) {
	v := Ok(7).Must()
	if v != 7 {
		t.Fatal("Must should return value")
	}
}

func TestUnwrapOr(t *testing.T) {
	if Ok(1).UnwrapOr(9) != 1 {
		t.Fatal("should return value")
	}
	if Err[int](errors.New("x")).UnwrapOr(9) != 9 {
		t.Fatal("should return fallback")
	}
}

func TestResultMap(t *testing.T) {
	r := Ok(2).Map(func(v int) int { return v * 3 })
	if r.Must() != 6 {
		t.Fatal("Map failed")
	}
	e := Err[int](errors.New("x")).Map(func(v int) int { return v * 3 })
	if e.IsOk() {
		t.Fatal("Map on Err should stay Err")
	}
}

func TestAndThen(t *testing.T) {
	r := Ok(2).AndThen(func(v int) Result[int] { return Ok(v + 1) })
	if r.Must() != 3 {
		t.Fatal("AndThen failed")
	}
	e := Err[int](errors.New("x")).AndThen(func(v int) Result[int] { return Ok(v + 1) })
	if e.IsOk() {
		t.Fatal("AndThen on Err should stay Err")
	}
}

func TestMapResult(t *testing.T) {
	r := MapResult(Ok(5), func(v int) string { return strconv.Itoa(v) })
	if r.Must() != "5" {
		t.Fatal("MapResult failed")
	}
	e := MapResult(Err[int](errors.New("boom")), func(v int) string { return "nope" })
	if e.IsOk() {
		t.Fatal("MapResult on Err should stay Err")
	}
	_, err := e.Unwrap()
	if err.Error() != "boom" {
		t.Fatal("error should propagate through MapResult")
	}
}

func TestFromPair(t *testing.T) {
	r := FromPair(strconv.Atoi("42"))
	if r.Must() != 42 {
		t.Fatal("FromPair failed")
	}
	e := FromPair(strconv.Atoi("nope"))
	if e.IsOk() {
		t.Fatal("FromPair should fail")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)})
	v := all.Must()
	if len(v) != 3 || v[0] != 1 {
		t.Fatal("Collect failed")
	}

	bad := Collect([]Result[int]{Ok(1), Err[int](errors.New("e1")), Err[int](errors.New("e2"))})
	_, err := bad.Unwrap()
	if err == nil || err.Error() != "e1" {
		t.Fatal("Collect should return first error")
	}

	one := Collect([]Result[int]{Err[int](errors.New("only"))})
	_, err = one.Unwrap()
	if err == nil || err.Error() != "only" {
		t.Fatal("Collect single error")
	}

	empty := Collect([]Result[int]{})
	if !empty.IsOk() || len(empty.Must()) != 0 {
		t.Fatal("Collect empty should be ok")
	}
}

// --- Retry ---
//
// Exercised by internal/extractor.Extractor.Extract, which retries a
// provider call through Retry before dropping the batch on exhaustion
// (spec.md §4.G).

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, Jitter: false}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if r.Must() != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
}

func TestRetryExhausted(t *testing.T) {
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, Jitter: false}, func(_ context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("Retry should fail after exhausting attempts")
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, RetryOpts{MaxAttempts: 100, InitialWait: 10 * time.Millisecond, Jitter: false}, func(ctx context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("Retry should fail on context cancel")
	}
	_, err := r.Unwrap()
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryContextCancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Jitter: false}, func(ctx context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("expected error")
	}
	_, err := r.Unwrap()
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryMaxAttemptsOne(t *testing.T) {
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 1, InitialWait: 0, Jitter: false}, func(_ context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() {
		t.Fatal("Retry with 1 attempt should fail")
	}
}

func TestRetryMaxWaitCap(t *testing.T) {
	opts := RetryOpts{
		MaxAttempts: 3,
		InitialWait: 10 * time.Millisecond,
		MaxWait:     5 * time.Millisecond, // lower than initial
		Jitter:      false,
	}

	attempts := 0
	r := Retry(context.Background(), opts, func(ctx context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("fail"))
		}
		return Ok(1)
	})
	if r.Must() != 1 {
		t.Fatal("expected success on 3rd attempt")
	}
}
