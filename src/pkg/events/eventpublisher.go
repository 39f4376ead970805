package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/q-controller/imgvault/src/pkg/images/storage"
)

type EventType string

const (
	EventUploaded EventType = "uploaded"
	EventRemoved  EventType = "removed"
	EventRejected EventType = "rejected"
)

type Event struct {
	Type      EventType              `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Image     *storage.ImageMetadata `json:"image,omitempty"`
	ImageID   string                 `json:"image_id,omitempty"`
	Kind      string                 `json:"kind,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
}

// Publisher fans image events out to subscribers. Publishing never blocks:
// a full queue or a slow subscriber drops the event.
type Publisher struct {
	ch   chan Event
	done atomic.Bool
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func (p *Publisher) ImageUploaded(image *storage.ImageMetadata) error {
	return p.publish(Event{
		Type:      EventUploaded,
		Timestamp: time.Now().Unix(),
		Image:     image,
		ImageID:   image.ImageID,
	})
}

func (p *Publisher) ImageRemoved(id string) error {
	return p.publish(Event{
		Type:      EventRemoved,
		Timestamp: time.Now().Unix(),
		ImageID:   id,
	})
}

func (p *Publisher) UploadRejected(kind, detail string) error {
	return p.publish(Event{
		Type:      EventRejected,
		Timestamp: time.Now().Unix(),
		Kind:      kind,
		Detail:    detail,
	})
}

// Subscribe registers a new subscriber. The returned channel is closed when
// cancel is called or the publisher shuts down.
func (p *Publisher) Subscribe(buffer int) (<-chan Event, func()) {
	sub := make(chan Event, buffer)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done.Load() {
		close(sub)
		return sub, func() {}
	}
	p.subs[sub] = struct{}{}

	return sub, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[sub]; ok {
			delete(p.subs, sub)
			close(sub)
		}
	}
}

func (p *Publisher) publish(event Event) error {
	if p.done.Load() {
		return fmt.Errorf("publisher is closed")
	}

	select {
	case p.ch <- event:
		return nil
	default:
		return fmt.Errorf("event queue is full, dropping event")
	}
}

func (p *Publisher) dispatch(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

func (p *Publisher) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done.Store(true)
	for sub := range p.subs {
		close(sub)
	}
	p.subs = map[chan Event]struct{}{}
}

// NewEventPublisher starts the dispatch loop; it runs until ctx is done.
func NewEventPublisher(ctx context.Context) *Publisher {
	publisher := &Publisher{
		ch:   make(chan Event, 100),
		subs: map[chan Event]struct{}{},
	}

	go func() {
		defer publisher.shutdown()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-publisher.ch:
				publisher.dispatch(event)
			}
		}
	}()

	return publisher
}
