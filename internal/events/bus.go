package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives an event payload.
type Handler func(payload any)

// HandlerID identifies one registration.
type HandlerID uint64

type registration struct {
	id      HandlerID
	handler Handler
}

// Bus is an in-process pub/sub registry. Handlers run synchronously on the
// emitting goroutine, in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]registration
	nextID   HandlerID
	log      *zerolog.Logger
}

// NewBus creates an empty bus. A nil logger disables panic logging.
func NewBus(logger *zerolog.Logger) *Bus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bus{
		handlers: make(map[Name][]registration),
		log:      logger,
	}
}

// On registers h for name and returns its id.
func (b *Bus) On(name Name, h Handler) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], registration{id: id, handler: h})
	return id
}

// Off removes the registration with id from name. Returns false if it was not found.
func (b *Bus) Off(name Name, id HandlerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[name]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, name)
		} else {
			b.handlers[name] = next
		}
		return true
	}
	return false
}

// Emit calls every handler registered for name at the time of the call.
// A panicking handler is logged and does not stop the others.
func (b *Bus) Emit(name Name, payload any) {
	b.mu.RLock()
	regs := b.handlers[name]
	b.mu.RUnlock()

	for _, r := range regs {
		b.call(name, r, payload)
	}
}

// Count returns the number of handlers registered for name.
func (b *Bus) Count(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func (b *Bus) call(name Name, r registration, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error().
				Str("event", string(name)).
				Uint64("handler_id", uint64(r.id)).
				Str("panic", fmt.Sprint(rec)).
				Msg("event handler panicked")
		}
	}()
	r.handler(payload)
}

// Subscribe registers a typed handler. Payloads of another type are logged and skipped.
func Subscribe[T any](b *Bus, name Name, fn func(T)) HandlerID {
	return b.On(name, func(payload any) {
		v, ok := payload.(T)
		if !ok {
			b.log.Warn().
				Str("event", string(name)).
				Str("payload_type", fmt.Sprintf("%T", payload)).
				Msg("unexpected event payload type")
			return
		}
		fn(v)
	})
}

// Subscription groups registrations so they can be removed together.
type Subscription struct {
	bus  *Bus
	regs []subscribed
}

type subscribed struct {
	name Name
	id   HandlerID
}

// NewSubscription starts an empty group on b.
func NewSubscription(b *Bus) *Subscription {
	return &Subscription{bus: b}
}

// Add records a registration made on the group's bus.
func (s *Subscription) Add(name Name, id HandlerID) {
	s.regs = append(s.regs, subscribed{name: name, id: id})
}

// Close removes every recorded registration.
func (s *Subscription) Close() {
	for _, r := range s.regs {
		s.bus.Off(r.name, r.id)
	}
	s.regs = nil
}
