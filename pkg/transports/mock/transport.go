package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/closer/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network dependency.
type Transport struct {
	recvCh chan transports.Event
	sentCh chan transports.Reply
	closed bool
	mu     sync.RWMutex
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan transports.Event, 256),
		sentCh: make(chan transports.Reply, 256),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
		close(t.sentCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) Send(r transports.Reply) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil
	}
	select {
	case t.sentCh <- r:
	default:
	}
	return nil
}

// Push injects an inbound event into the transport.
func (t *Transport) Push(ev transports.Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.recvCh <- ev:
	default:
	}
}

// Sent exposes outbound replies for inspection.
func (t *Transport) Sent() <-chan transports.Reply { return t.sentCh }
