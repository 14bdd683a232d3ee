package server

import (
	"context"
	"sync"

	"github.com/jrsteele09/storefront-auth/monitor"
	"github.com/jrsteele09/storefront-auth/session"
)

// client is one browser session's monitor plus its event stream listeners.
type client struct {
	monitor     *monitor.Monitor
	cancel      context.CancelFunc
	subscribers map[chan monitor.Notice]struct{}
}

// clientHub runs a monitor per cookie session and fans its sign-out notice
// out to the session's websocket listeners.
type clientHub struct {
	onSignOut func(monitor.Notice)

	mu      sync.Mutex
	clients map[string]*client
}

func newClientHub(onSignOut func(monitor.Notice)) *clientHub {
	return &clientHub{
		onSignOut: onSignOut,
		clients:   make(map[string]*client),
	}
}

// start launches the monitor for sess. It runs until the session is signed
// out, stop is called or ctx ends.
func (h *clientHub) start(ctx context.Context, sess *session.Session, options ...monitor.Option) {
	options = append(options, monitor.WithSignOutHandler(h.onSignOut))
	m := monitor.New(sess, options...)
	mctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if prev, ok := h.clients[sess.ID()]; ok {
		prev.cancel()
	}
	c := &client{monitor: m, cancel: cancel, subscribers: make(map[chan monitor.Notice]struct{})}
	h.clients[sess.ID()] = c
	h.mu.Unlock()

	go func() {
		defer cancel()
		m.Run(mctx)
	}()
}

// focus asks clientID's monitor for an immediate check.
func (h *clientHub) focus(clientID string) bool {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	c.monitor.Focus()
	return true
}

// subscribe registers a listener for clientID's sign-out notice. The
// returned function must be called when the listener goes away.
func (h *clientHub) subscribe(clientID string) (<-chan monitor.Notice, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan monitor.Notice, 1)
	c.subscribers[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(c.subscribers, ch)
	}, true
}

// publish delivers notice to every listener of its client.
func (h *clientHub) publish(notice monitor.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[notice.ClientID]
	if !ok {
		return
	}
	for ch := range c.subscribers {
		select {
		case ch <- notice:
		default:
		}
	}
}

// stop ends clientID's monitor and forgets the client.
func (h *clientHub) stop(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()

	if ok {
		c.cancel()
	}
}

func (h *clientHub) stopAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.cancel()
	}
}
