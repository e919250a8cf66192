package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Client is one authenticated connection to a gateway.
//
// A Client owns its reader and writer loops, its sequence counter, its
// correlation table and its subscription table. Several Clients may coexist
// and be closed independently. A Client cannot be reconnected; after Done
// is closed, dial a new one.
type Client struct {
	transport Transport
	opts      options
	logger    Logger
	metrics   *Metrics

	seq      Sequence
	pending  *pendingTable
	subs     *subscriptionTable
	hs       *handshake
	outbound chan Command

	authMu sync.Mutex

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopMu   sync.Mutex
	stopErr  error
	done     chan struct{}
	errMu    sync.Mutex
	err      error
}

// New starts a Client over an established transport. The loops start
// immediately so the gateway greeting is consumed; call Authenticate before
// issuing commands.
func New(transport Transport, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: transport,
		opts:      o,
		logger:    o.logger,
		metrics:   o.metrics,
		pending:   newPendingTable(),
		subs:      newSubscriptionTable(),
		hs:        newHandshake(),
		outbound:  make(chan Command, o.queueSize),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go c.run(ctx)
	return c
}

// Dial connects to the gateway WebSocket endpoint at rawURL. A URL without
// a path gets DefaultPath; http and https schemes are mapped to ws and wss.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	endpoint, err := websocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	transport, err := DialWebsocket(ctx, endpoint, o.header)
	if err != nil {
		return nil, err
	}
	o.logger.Info("connected to gateway", "url", endpoint)
	return New(transport, opts...), nil
}

// Connect dials the gateway and authenticates with token. On failure the
// connection is closed.
func Connect(ctx context.Context, rawURL, token string, opts ...Option) (*Client, error) {
	c, err := Dial(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Authenticate(ctx, token); err != nil {
		c.Close() //nolint:errcheck // the authentication error is more useful
		return nil, err
	}
	return c, nil
}

func websocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &TransportError{Op: "dial", Err: err}
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", &TransportError{Op: "dial", Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", &TransportError{Op: "dial", Err: errors.New("missing host")}
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}
	return u.String(), nil
}

// Authenticate runs the handshake with the given long-lived access token.
// It waits for the gateway greeting, sends the token and waits for the
// verdict. A rejected token returns an *AuthError and closes the
// connection. Calling Authenticate on an authenticated Client is a no-op.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	switch c.hs.current() {
	case StateAuthenticated:
		return nil
	case StateFailed:
		return c.hs.result()
	}

	select {
	case <-c.hs.greeted:
	case <-c.done:
		return c.handshakeErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.hs.markSent() {
		c.logger.Debug("sending access token")
		if err := c.enqueue(ctx, &AuthCommand{Type: TypeAuth, AccessToken: token}); err != nil {
			// The token never reached the writer, so a retry must send it.
			c.hs.unmarkSent()
			return err
		}
	}

	select {
	case <-c.hs.finished:
		return c.hs.result()
	case <-c.done:
		return c.handshakeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handshakeErr prefers the handshake's own verdict over the teardown error.
func (c *Client) handshakeErr() error {
	select {
	case <-c.hs.finished:
		return c.hs.result()
	default:
		return c.Err()
	}
}

// ready reports whether commands may be issued.
func (c *Client) ready() error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	if !c.hs.authenticated() {
		return ErrNotAuthenticated
	}
	return nil
}

// Ping sends a ping and waits for the pong.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, newSimple(TypePing))
	if err != nil {
		return err
	}
	if resp.Type != TypePong {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedPayload, resp.Type, TypePong)
	}
	return nil
}

// GetConfig returns the gateway configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	cfg, err := execute[Config](ctx, c, newSimple(TypeGetConfig))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetStates returns the current state of every entity.
func (c *Client) GetStates(ctx context.Context) ([]EntityState, error) {
	return execute[[]EntityState](ctx, c, newSimple(TypeGetStates))
}

// GetServices returns the service catalogue.
func (c *Client) GetServices(ctx context.Context) (Services, error) {
	return execute[Services](ctx, c, newSimple(TypeGetServices))
}

// GetPanels returns the registered frontend panels.
func (c *Client) GetPanels(ctx context.Context) (Panels, error) {
	return execute[Panels](ctx, c, newSimple(TypeGetPanels))
}

// GetAreas returns the area registry.
func (c *Client) GetAreas(ctx context.Context) ([]Area, error) {
	return execute[[]Area](ctx, c, newSimple(TypeAreaRegistryList))
}

// GetDevices returns the device registry.
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	return execute[[]Device](ctx, c, newSimple(TypeDeviceRegistry))
}

// GetEntities returns the entity registry.
func (c *Client) GetEntities(ctx context.Context) ([]Entity, error) {
	return execute[[]Entity](ctx, c, newSimple(TypeEntityRegistry))
}

// CallService invokes domain.service with optional service data and returns
// the raw result payload. A *GatewayError means the service was not run.
func (c *Client) CallService(ctx context.Context, domain, service string, data any) (json.RawMessage, error) {
	if domain == "" || service == "" {
		return nil, fmt.Errorf("%w: domain and service are required", ErrEncode)
	}
	return execute[json.RawMessage](ctx, c, &CallServiceCommand{
		Header:      Header{Type: TypeCallService},
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
}

// Subscribe subscribes to eventType, or to every event if it is empty.
// Events are delivered on the returned Subscription until Unsubscribe or
// connection teardown. Events that arrive while the subscription's buffer
// is full are dropped for that subscription; see WithEventBuffer.
func (c *Client) Subscribe(ctx context.Context, eventType string) (*Subscription, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	cmd := &SubscribeEventsCommand{
		Header:    Header{Type: TypeSubscribeEvents},
		EventType: eventType,
	}
	id := c.seq.Next()
	cmd.assign(id)

	// The entry goes in before the command is sent so an event that races
	// the acknowledgement is not dropped.
	sub := newSubscription(id, eventType, c.opts.eventBuffer)
	if err := c.subs.add(sub); err != nil {
		return nil, err
	}

	if _, err := execute[json.RawMessage](ctx, c, cmd); err != nil {
		if removed, ok := c.subs.remove(id); ok {
			removed.end(err)
		}
		return nil, err
	}

	if sub.activate() {
		c.metrics.subscriptionsChanged(1)
	}
	c.logger.Info("subscribed to gateway events", "subscription", id, "event_type", eventType)
	return sub, nil
}

// Unsubscribe cancels the subscription with the given identifier. An
// identifier not in the subscription table returns ErrUnknownSubscription
// without contacting the gateway.
func (c *Client) Unsubscribe(ctx context.Context, id uint64) error {
	if err := c.ready(); err != nil {
		return err
	}
	if _, ok := c.subs.lookup(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubscription, id)
	}

	if _, err := execute[json.RawMessage](ctx, c, &UnsubscribeEventsCommand{
		Header:       Header{Type: TypeUnsubscribeEvents},
		Subscription: id,
	}); err != nil {
		return err
	}

	if sub, ok := c.subs.remove(id); ok && sub.end(nil) {
		c.metrics.subscriptionsChanged(-1)
	}
	c.logger.Info("unsubscribed from gateway events", "subscription", id)
	return nil
}

// Close tears the connection down and waits for the loops to stop. Every
// outstanding caller and subscription receives ErrTransportClosed.
func (c *Client) Close() error {
	c.stop(ErrTransportClosed)
	<-c.done
	return nil
}

// stop cancels the loops. The first cause wins.
func (c *Client) stop(cause error) {
	c.stopOnce.Do(func() {
		c.stopMu.Lock()
		c.stopErr = cause
		c.stopMu.Unlock()
		c.cancel()
	})
}

func (c *Client) stopCause() error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	return c.stopErr
}

// Done is closed once the connection has been torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns nil while the connection is up, and the teardown error after
// Done is closed.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// State returns the connection state.
func (c *Client) State() State {
	select {
	case <-c.done:
		if c.hs.current() == StateFailed {
			return StateFailed
		}
		return StateClosed
	default:
		return c.hs.current()
	}
}

// GatewayVersion returns the ha_version reported by the gateway during the
// handshake, or "" if none was sent.
func (c *Client) GatewayVersion() string { return c.hs.gatewayVersion() }

// LastID returns the most recently allocated message identifier, and false
// if none has been allocated yet.
func (c *Client) LastID() (uint64, bool) { return c.seq.Last() }

// PendingCount returns the number of commands awaiting a reply.
func (c *Client) PendingCount() int { return c.pending.len() }

// SubscriptionCount returns the number of live subscriptions.
func (c *Client) SubscriptionCount() int { return c.subs.len() }

// SubscriptionIDs returns the live subscription identifiers in no
// particular order.
func (c *Client) SubscriptionIDs() []uint64 { return c.subs.ids() }

// String describes the client without exposing credentials.
func (c *Client) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hass.Client{state:%s", c.State())
	if v := c.GatewayVersion(); v != "" {
		fmt.Fprintf(&b, " version:%s", v)
	}
	b.WriteString("}")
	return b.String()
}
