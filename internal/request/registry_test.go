package request_test

import (
	"context"
	"errors"
	"testing"

	"github.com/susurrus-chat/susurrus/internal/request"
)

func TestRegistry_StartAndDone(t *testing.T) {
	t.Parallel()

	r := request.NewRegistry()
	ctx, done := r.Start(context.Background(), request.OpQuery)

	if !r.Busy(request.OpQuery) {
		t.Error("Busy=false while operation live, want true")
	}
	if err := ctx.Err(); err != nil {
		t.Errorf("ctx.Err=%v before done, want nil", err)
	}

	done()
	done() // safe to call twice

	if r.Busy(request.OpQuery) {
		t.Error("Busy=true after done, want false")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("ctx.Err=%v after done, want Canceled", ctx.Err())
	}
}

func TestRegistry_StartCancelsPredecessor(t *testing.T) {
	t.Parallel()

	r := request.NewRegistry()
	first, _ := r.Start(context.Background(), request.OpQuery)
	second, done := r.Start(context.Background(), request.OpQuery)

	if !errors.Is(first.Err(), context.Canceled) {
		t.Errorf("first ctx.Err=%v after replacement, want Canceled", first.Err())
	}
	if second.Err() != nil {
		t.Errorf("second ctx.Err=%v, want nil", second.Err())
	}
	done()
}

func TestRegistry_StaleDoneKeepsSuccessor(t *testing.T) {
	t.Parallel()

	r := request.NewRegistry()
	_, firstDone := r.Start(context.Background(), request.OpTTS)
	_, secondDone := r.Start(context.Background(), request.OpTTS)

	// The replaced operation finishing late must not release the successor's
	// slot.
	firstDone()
	if !r.Busy(request.OpTTS) {
		t.Error("Busy=false after stale done, want successor still live")
	}
	secondDone()
	if r.Busy(request.OpTTS) {
		t.Error("Busy=true after successor done, want false")
	}
}

func TestRegistry_Cancel(t *testing.T) {
	t.Parallel()

	r := request.NewRegistry()
	if r.Cancel(request.OpSummarize) {
		t.Error("Cancel with nothing live=true, want false")
	}

	ctx, done := r.Start(context.Background(), request.OpSummarize)
	defer done()
	if !r.Cancel(request.OpSummarize) {
		t.Error("Cancel with live operation=false, want true")
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Errorf("ctx.Err=%v after Cancel, want Canceled", ctx.Err())
	}
}

func TestRegistry_KindsAreIndependent(t *testing.T) {
	t.Parallel()

	r := request.NewRegistry()
	queryCtx, queryDone := r.Start(context.Background(), request.OpQuery)
	defer queryDone()
	_, voiceDone := r.Start(context.Background(), request.OpVoiceInteract)
	defer voiceDone()

	r.Cancel(request.OpVoiceInteract)
	if queryCtx.Err() != nil {
		t.Errorf("query ctx.Err=%v after cancelling voice, want nil", queryCtx.Err())
	}
	if !r.Busy(request.OpQuery) {
		t.Error("query not busy after cancelling an unrelated kind")
	}
}

func TestRegistry_CancelAll(t *testing.T) {
	t.Parallel()

	r := request.NewRegistry()
	a, _ := r.Start(context.Background(), request.OpQuery)
	b, _ := r.Start(context.Background(), request.OpTTS)

	r.CancelAll()
	if !errors.Is(a.Err(), context.Canceled) || !errors.Is(b.Err(), context.Canceled) {
		t.Errorf("after CancelAll: errs=%v/%v, want both Canceled", a.Err(), b.Err())
	}
}
