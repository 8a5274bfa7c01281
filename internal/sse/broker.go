// Package sse implements a Server-Sent Events broker for install and reload
// notifications.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types emitted besides the service's own library events.
const (
	EventStatusChanged = "status.changed"
)

const (
	clientBuffer     = 64
	defaultReplay    = 32
	defaultHeartbeat = 15 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type frame struct {
	id  string
	raw []byte
}

type subscription struct {
	ch     chan []byte
	lastID string
}

type libraryEventReq struct {
	kind    string
	library string
	detail  string
}

// Option configures a Broker.
type Option func(*Broker)

// WithReplay keeps the last n frames for clients that reconnect with a
// Last-Event-ID header. Zero disables replay.
func WithReplay(n int) Option {
	return func(b *Broker) { b.replay = n }
}

// WithHeartbeat sets the interval of keep-alive comments on idle streams.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the clients, the replay ring and the status
// throttle. Public methods talk to it over channels.
type Broker struct {
	statusMin time.Duration
	replay    int
	heartbeat time.Duration

	subscribeCh    chan subscription
	unsubscribeCh  chan chan []byte
	publishCh      chan Event
	libraryEventCh chan libraryEventReq
	countReqCh     chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. status.changed is sent at most once
// per statusThrottle.
func NewBroker(statusThrottle time.Duration, opts ...Option) *Broker {
	if statusThrottle <= 0 {
		statusThrottle = 2 * time.Second
	}

	b := &Broker{
		statusMin:      statusThrottle,
		replay:         defaultReplay,
		heartbeat:      defaultHeartbeat,
		subscribeCh:    make(chan subscription),
		unsubscribeCh:  make(chan chan []byte),
		publishCh:      make(chan Event, 256),
		libraryEventCh: make(chan libraryEventReq, 256),
		countReqCh:     make(chan chan int),
		stopCh:         make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func encode(event Event) (frame, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return frame{}, err
	}
	id := uuid.NewString()
	return frame{id: id, raw: fmt.Appendf(nil, "id: %s\nevent: %s\ndata: %s\n\n", id, event.Type, payload)}, nil
}

// send never blocks the loop; a slow client misses frames.
func send(ch chan []byte, raw []byte) {
	select {
	case ch <- raw:
	default:
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		ring       []frame
		lastStatus time.Time
	)

	broadcast := func(event Event) {
		f, err := encode(event)
		if err != nil {
			return
		}
		if b.replay > 0 {
			ring = append(ring, f)
			if len(ring) > b.replay {
				ring = ring[len(ring)-b.replay:]
			}
		}
		for ch := range clients {
			send(ch, f.raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.lastID == "" {
				continue
			}
			for i, f := range ring {
				if f.id != sub.lastID {
					continue
				}
				for _, missed := range ring[i+1:] {
					send(sub.ch, missed.raw)
				}
				break
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.libraryEventCh:
			data := map[string]string{}
			if req.library != "" {
				data["library"] = req.library
			}
			if req.detail != "" {
				data["detail"] = req.detail
			}
			broadcast(Event{Type: req.kind, Data: data})

			if now := time.Now(); now.Sub(lastStatus) >= b.statusMin {
				lastStatus = now
				broadcast(Event{Type: EventStatusChanged, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel. It is idempotent.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeFrom("")
}

// SubscribeFrom adds a client that first receives the retained frames
// published after lastID. An unknown lastID replays nothing.
func (b *Broker) SubscribeFrom(lastID string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishLibraryEvent publishes a library change and a throttled
// status.changed event.
func (b *Broker) PublishLibraryEvent(kind, library, detail string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.libraryEventCh <- libraryEventReq{kind: kind, library: library, detail: detail}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). A reconnecting
// client's Last-Event-ID header resumes the stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeFrom(r.Header.Get("Last-Event-ID"))
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
