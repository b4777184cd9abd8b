package approval

import (
	"context"
	"log"
	"os"
	"testing"
)

func TestDispatch_ValidPayload(t *testing.T) {
	var got Decision
	l := NewListener("postgres://unused", func(_ context.Context, d Decision) {
		got = d
	}, log.New(os.Stderr, "", 0))

	l.dispatch(context.Background(), `{"user_id":"u1","alert_id":"a1","decision":"approve"}`)
	if got.UserID != "u1" || got.AlertID != "a1" || got.Decision != "approve" {
		t.Errorf("unexpected decision %+v", got)
	}
}

func TestDispatch_IgnoresMalformedPayloads(t *testing.T) {
	called := false
	l := NewListener("postgres://unused", func(context.Context, Decision) {
		called = true
	}, log.New(os.Stderr, "", 0))

	for _, payload := range []string{
		`not json`,
		`{}`,
		`{"alert_id":"a1","decision":"maybe"}`,
		`{"decision":"approve"}`,
	} {
		l.dispatch(context.Background(), payload)
	}
	if called {
		t.Error("malformed payloads must not reach the handler")
	}
}
