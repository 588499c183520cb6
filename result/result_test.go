package result

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestMonadLaws(t *testing.T) {
	f := func(v int) Result[int] { return Success(v * 2) }
	g := func(v int) Result[int] { return Success(v + 1) }

	// Left identity: Success(v).flatMap(f) == f(v).
	left := FlatMap(Success(21), f)
	if got := left.MustGet(); got != f(21).MustGet() {
		t.Fatalf("left identity violated: %d", got)
	}

	// Right identity: r.flatMap(Success) == r.
	r := Success(7)
	right := FlatMap(r, func(v int) Result[int] { return Success(v) })
	if right.MustGet() != r.MustGet() {
		t.Fatalf("right identity violated")
	}

	// Associativity.
	a := FlatMap(FlatMap(r, f), g)
	b := FlatMap(r, func(v int) Result[int] { return FlatMap(f(v), g) })
	if a.MustGet() != b.MustGet() {
		t.Fatalf("associativity violated: %d vs %d", a.MustGet(), b.MustGet())
	}
}

func TestFailurePreservation(t *testing.T) {
	e := Tool("boom", "hammer")
	r := Failure[int](e)

	mapped := Map(r, func(v int) int { return v + 1 })
	if mapped.Err() != e {
		t.Fatalf("Map must preserve the original failure")
	}

	chained := FlatMap(r, func(v int) Result[string] { return Success("x") })
	if chained.Err() != e {
		t.Fatalf("FlatMap must preserve the original failure")
	}

	if _, ok := mapped.Value(); ok {
		t.Fatalf("failure must not carry a value")
	}
}

func TestFoldAndRecover(t *testing.T) {
	r := Failure[int](Network("down", 503, "api.example.com"))

	out := Fold(r, func(v int) string { return "ok" }, func(e *Error) string { return e.Code })
	if out != CodeNetwork {
		t.Fatalf("unexpected fold result: %s", out)
	}

	if got := r.Recover(func(*Error) int { return 42 }).MustGet(); got != 42 {
		t.Fatalf("recover failed: %d", got)
	}

	rw := r.RecoverWith(func(*Error) Result[int] { return Success(1) })
	if got := rw.MustGet(); got != 1 {
		t.Fatalf("recoverWith failed: %d", got)
	}

	// Success passes through recovery untouched.
	s := Success(5).Recover(func(*Error) int { return 0 })
	if s.MustGet() != 5 {
		t.Fatalf("recover must not touch success")
	}
}

func TestOnSuccessOnFailure(t *testing.T) {
	var succeeded, failed int
	Success(1).OnSuccess(func(int) { succeeded++ }).OnFailure(func(*Error) { failed++ })
	Failure[int](Unknown("x")).OnSuccess(func(int) { succeeded++ }).OnFailure(func(*Error) { failed++ })

	if succeeded != 1 || failed != 1 {
		t.Fatalf("side effect counts wrong: %d %d", succeeded, failed)
	}
}

func TestCatching(t *testing.T) {
	ok := Catching(func() (int, error) { return 3, nil })
	if ok.MustGet() != 3 {
		t.Fatalf("catching success failed")
	}

	failed := Catching(func() (int, error) { return 0, errors.New("plain") })
	if failed.Err() == nil || failed.Err().Code != CodeUnknown {
		t.Fatalf("expected unknown error, got %v", failed.Err())
	}

	panicked := Catching(func() (int, error) { panic("kaboom") })
	if panicked.Err() == nil || panicked.Err().Code != CodeUnknown {
		t.Fatalf("expected panic capture, got %v", panicked.Err())
	}
	if panicked.Err().ContextValue(CtxPanicValue) != "kaboom" {
		t.Fatalf("panic value missing from context")
	}
}

func TestCatchingCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := CatchingCtx(ctx, func(context.Context) (int, error) {
		t.Fatal("body must not run under a cancelled context")
		return 0, nil
	})
	if r.Err() == nil || r.Err().Code != CodeCancelled {
		t.Fatalf("expected cancelled, got %v", r.Err())
	}
}

func TestFromErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{context.Canceled, CodeCancelled},
		{context.DeadlineExceeded, CodeTimeout},
		{&net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, CodeNetwork},
		{fmt.Errorf("wrap: %w", ErrInvalidArgument), CodeValidation},
		{fmt.Errorf("wrap: %w", ErrInvalidState), CodeConfiguration},
		{errors.New("anything"), CodeUnknown},
	}
	for _, tc := range cases {
		if got := FromError(tc.err); got.Code != tc.code {
			t.Fatalf("FromError(%v): expected %s, got %s", tc.err, tc.code, got.Code)
		}
	}

	typed := RateLimit("slow down", 1000, "requests")
	if FromError(typed) != typed {
		t.Fatalf("typed error must pass through")
	}
	if FromError(nil) != nil {
		t.Fatalf("nil must map to nil")
	}
}

func TestWithContextCopies(t *testing.T) {
	base := Agent("failed", "a1")
	extended := base.WithContext("attempt", 2)

	if base.ContextValue("attempt") != nil {
		t.Fatalf("WithContext must not mutate the receiver")
	}
	if extended.ContextValue("attempt") != 2 {
		t.Fatalf("context value missing on copy")
	}
	if extended.ContextValue(CtxAgentID) != "a1" {
		t.Fatalf("copy lost original context")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(RateLimit("x", 0, "")) || !IsRetryable(Timeout("x", 0, "")) || !IsRetryable(Network("x", 0, "")) {
		t.Fatalf("rate limit, timeout and network should be retryable")
	}
	if IsRetryable(Validation("x", "f", "", nil)) || IsRetryable(nil) {
		t.Fatalf("validation and nil must not be retryable")
	}
}
