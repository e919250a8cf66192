package hass

import (
	"errors"
	"testing"
)

func TestHandshakeTransitions(t *testing.T) {
	h := newHandshake()
	if got := h.current(); got != StateAwaitAuthRequired {
		t.Fatalf("initial state = %v", got)
	}

	if err := h.observe(&Response{Type: TypeAuthRequired, HAVersion: "2024.1.0"}); err != nil {
		t.Fatalf("observe(auth_required) error = %v", err)
	}
	if got := h.current(); got != StateSendAuthToken {
		t.Errorf("state = %v, want %v", got, StateSendAuthToken)
	}
	if h.gatewayVersion() != "2024.1.0" {
		t.Errorf("gatewayVersion() = %q", h.gatewayVersion())
	}

	if !h.markSent() {
		t.Fatal("markSent() = false")
	}
	if h.markSent() {
		t.Error("second markSent() = true")
	}

	if err := h.observe(&Response{Type: TypeAuthOK}); err != nil {
		t.Fatalf("observe(auth_ok) error = %v", err)
	}
	if !h.authenticated() {
		t.Errorf("state = %v, want authenticated", h.current())
	}
	if h.gatewayVersion() != "2024.1.0" {
		t.Error("auth_ok without ha_version cleared the version")
	}

	select {
	case <-h.finished:
	default:
		t.Error("finished not closed")
	}

	h.fail(errors.New("late"))
	if err := h.result(); err != nil {
		t.Errorf("result() after fail on authenticated = %v, want nil", err)
	}
}

func TestHandshakeFailures(t *testing.T) {
	tests := []struct {
		name    string
		frames  []*Response
		send    bool
		message string
	}{
		{
			name:    "rejected token",
			frames:  []*Response{{Type: TypeAuthRequired}, {Type: TypeAuthInvalid, Message: "bad token"}},
			send:    true,
			message: "bad token",
		},
		{
			name:   "verdict before token",
			frames: []*Response{{Type: TypeAuthRequired}, {Type: TypeAuthOK}},
		},
		{
			name:   "no greeting",
			frames: []*Response{{Type: TypePong}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandshake()
			var err error
			for i, f := range tt.frames {
				if i == 1 && tt.send {
					h.markSent()
				}
				if err = h.observe(f); err != nil {
					break
				}
			}

			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("observe() error = %v, want ErrAuthenticationFailed", err)
			}
			if tt.message != "" {
				var authErr *AuthError
				if !errors.As(err, &authErr) || authErr.Message != tt.message {
					t.Errorf("error = %v, want message %q", err, tt.message)
				}
			}
			if got := h.current(); got != StateFailed {
				t.Errorf("state = %v, want %v", got, StateFailed)
			}
			<-h.greeted
			<-h.finished
		})
	}
}

func TestHandshakeFailBeforeGreeting(t *testing.T) {
	h := newHandshake()
	h.fail(ErrTransportClosed)

	<-h.greeted
	<-h.finished
	if !errors.Is(h.result(), ErrTransportClosed) {
		t.Errorf("result() = %v, want ErrTransportClosed", h.result())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateAwaitAuthRequired: "await_auth_required",
		StateSendAuthToken:     "send_auth_token",
		StateAuthenticated:     "authenticated",
		StateFailed:            "failed",
		StateClosed:            "closed",
		State(42):              "state(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}
