package hass

import (
	"fmt"
	"sync"
)

// State is the connection lifecycle state.
type State int32

// Connection states. The first four are the authentication handshake.
const (
	// StateAwaitAuthRequired waits for the gateway greeting.
	StateAwaitAuthRequired State = iota
	// StateSendAuthToken has been greeted and sends (or has sent) the token.
	StateSendAuthToken
	// StateAuthenticated accepts commands.
	StateAuthenticated
	// StateFailed is terminal: the gateway rejected the token or violated
	// the handshake.
	StateFailed
	// StateClosed is terminal: the connection has been torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitAuthRequired:
		return "await_auth_required"
	case StateSendAuthToken:
		return "send_auth_token"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// handshake tracks the authentication exchange.
//
// The reader loop feeds it every frame until the state is Authenticated,
// so transitions happen in frame order. Authenticate waits on greeted and
// finished rather than reading frames itself.
type handshake struct {
	mu      sync.Mutex
	state   State
	sent    bool
	version string
	err     error

	greeted  chan struct{}
	finished chan struct{}
}

func newHandshake() *handshake {
	return &handshake{
		state:    StateAwaitAuthRequired,
		greeted:  make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// current returns the handshake state.
func (h *handshake) current() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handshake) authenticated() bool {
	return h.current() == StateAuthenticated
}

// gatewayVersion returns the ha_version reported during the handshake.
func (h *handshake) gatewayVersion() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// result returns the terminal error, nil once authenticated.
func (h *handshake) result() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// markSent records that the token is about to be sent. It returns false if
// the token was already sent or the handshake is not waiting for it.
func (h *handshake) markSent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateSendAuthToken || h.sent {
		return false
	}
	h.sent = true
	return true
}

// unmarkSent undoes markSent when the token could not be queued.
func (h *handshake) unmarkSent() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateSendAuthToken {
		h.sent = false
	}
}

// observe advances the state machine with one inbound frame. A non-nil
// error is terminal and the connection must be closed.
func (h *handshake) observe(resp *Response) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateAwaitAuthRequired:
		if resp.Type != TypeAuthRequired {
			return h.failLocked(&AuthError{Message: fmt.Sprintf("expected %s, got %q", TypeAuthRequired, resp.Type)})
		}
		h.version = resp.HAVersion
		h.state = StateSendAuthToken
		close(h.greeted)
		return nil

	case StateSendAuthToken:
		if !h.sent {
			return h.failLocked(&AuthError{Message: fmt.Sprintf("unexpected %q before token was sent", resp.Type)})
		}
		switch resp.Type {
		case TypeAuthOK:
			if resp.HAVersion != "" {
				h.version = resp.HAVersion
			}
			h.state = StateAuthenticated
			close(h.finished)
			return nil
		case TypeAuthInvalid:
			return h.failLocked(&AuthError{Message: resp.Message})
		default:
			return h.failLocked(&AuthError{Message: fmt.Sprintf("expected %s or %s, got %q", TypeAuthOK, TypeAuthInvalid, resp.Type)})
		}
	}

	return nil
}

// fail ends a handshake that has not finished, e.g. because the transport
// dropped. It is a no-op once the handshake is terminal.
func (h *handshake) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateAuthenticated || h.state == StateFailed {
		return
	}
	h.failLocked(err) //nolint:errcheck // returns err unchanged
}

func (h *handshake) failLocked(err error) error {
	if h.state == StateAwaitAuthRequired {
		close(h.greeted)
	}
	h.state = StateFailed
	h.err = err
	close(h.finished)
	return err
}
