package eventbus

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

type saved struct {
	data any
}

func newTestLogger(buf *bytes.Buffer, level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log
}

func TestPublisher_Publish_NoSubscribers(t *testing.T) {
	type other struct {
		data any
	}
	logBuffer := bytes.Buffer{}
	publisher := NewEventPublisher(newTestLogger(&logBuffer, logrus.WarnLevel))
	publisher.Subscribe(func(e *saved) {
		t.Error("should not be called")
	})
	publisher.Publish(&other{data: "test"})

	if output := logBuffer.String(); output == "" {
		t.Error("should have logged")
	} else if !strings.Contains(output, "eventbus.Publish: no matching subscribers") {
		t.Errorf("should have contained no matching subscribers but got: %q", output)
	}
}

func TestPublisher_Subscribe(t *testing.T) {
	publisher := NewEventPublisher(newTestLogger(&bytes.Buffer{}, logrus.WarnLevel))
	called := false
	var data any
	publisher.Subscribe(func(e *saved) {
		called = true
		data = e.data
	})
	publisher.Publish(&saved{data: "test"})
	if !called {
		t.Error("should be called")
	}
	if data != "test" {
		t.Errorf("expected: %v, got: %v", "test", data)
	}
}

func TestPublisher_Unsubscribe(t *testing.T) {
	publisher := NewEventPublisher(newTestLogger(&bytes.Buffer{}, logrus.PanicLevel))
	handler := func(e *saved) {
		t.Error("should not be called after unsubscribe")
	}
	publisher.Subscribe(handler)
	if publisher.SubscribersCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", publisher.SubscribersCount())
	}
	publisher.Unsubscribe(handler)
	if publisher.SubscribersCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", publisher.SubscribersCount())
	}
	publisher.Publish(&saved{data: "test"})
}

func TestMatchSignature(t *testing.T) {
	type a struct{}
	type b struct{}
	if !MatchSignature(func(e *a) {}, []any{&a{}}) {
		t.Error("expected true")
	}
	if MatchSignature(func(e *a) {}, []any{&b{}}) {
		t.Error("expected false")
	}
	if MatchSignature(func(e *a) {}, []any{}) {
		t.Error("expected false")
	}
	if MatchSignature(func(e *a) {}, []any{&a{}, &a{}}) {
		t.Error("expected false")
	}
	if !MatchSignature(func(ctx context.Context) {}, []any{context.Background()}) {
		t.Error("expected true")
	}
}

func TestPublisher_PanicRecovery(t *testing.T) {
	t.Parallel()

	logBuffer := bytes.Buffer{}
	publisher := NewEventPublisher(newTestLogger(&logBuffer, logrus.ErrorLevel))

	publisher.Subscribe(func(e *saved) {
		panic("intentional panic for testing")
	})

	secondCalled := false
	publisher.Subscribe(func(e *saved) {
		secondCalled = true
	})

	publisher.Publish(&saved{data: "test"})

	if !secondCalled {
		t.Error("second handler should still run after first panics")
	}
	if !strings.Contains(logBuffer.String(), "panicked") {
		t.Errorf("panic should be logged, got: %q", logBuffer.String())
	}
}

func TestPublisher_PublishE(t *testing.T) {
	t.Parallel()

	t.Run("no subscribers", func(t *testing.T) {
		publisher := NewEventPublisher(nil).(EventBusWithError)
		if err := publisher.PublishE(&saved{}); !errors.Is(err, ErrNoSubscribers) {
			t.Fatalf("expected ErrNoSubscribers, got %v", err)
		}
	})

	t.Run("handler error is returned", func(t *testing.T) {
		publisher := NewEventPublisher(nil).(EventBusWithError)
		want := errors.New("handler failed")
		publisher.Subscribe(func(e *saved) error { return want })
		if err := publisher.PublishE(&saved{}); !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
	})

	t.Run("nil error means success", func(t *testing.T) {
		publisher := NewEventPublisher(nil).(EventBusWithError)
		publisher.Subscribe(func(e *saved) error { return nil })
		if err := publisher.PublishE(&saved{}); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	})

	t.Run("invalid return signature", func(t *testing.T) {
		publisher := NewEventPublisher(nil).(EventBusWithError)
		publisher.Subscribe(func(e *saved) string { return "" })
		if err := publisher.PublishE(&saved{}); !errors.Is(err, ErrInvalidHandlerReturn) {
			t.Fatalf("expected ErrInvalidHandlerReturn, got %v", err)
		}
	})

	t.Run("panic becomes error", func(t *testing.T) {
		publisher := NewEventPublisher(nil).(EventBusWithError)
		publisher.Subscribe(func(e *saved) { panic("boom") })
		err := publisher.PublishE(&saved{})
		if err == nil || !strings.Contains(err.Error(), "panicked") {
			t.Fatalf("expected panic error, got %v", err)
		}
	})
}
