package events

import (
	"reflect"
	"testing"
)

func TestBusDispatchesInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.On(MessageNew, func(any) { order = append(order, "first") })
	bus.On(MessageNew, func(any) { order = append(order, "second") })
	bus.On(MessageEdited, func(any) { order = append(order, "other") })

	bus.Emit(MessageNew, nil)

	if want := []string{"first", "second"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("unexpected order: %v, want %v", order, want)
	}
}

func TestBusPassesPayloadUnchanged(t *testing.T) {
	bus := NewBus(nil)

	type payload struct{ N int }
	var got any
	bus.On(Notification, func(p any) { got = p })

	bus.Emit(Notification, payload{N: 7})

	if got != (payload{N: 7}) {
		t.Fatalf("unexpected payload: %#v", got)
	}
}

func TestBusOffRemovesOnlyThatRegistration(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	first := bus.On(TypingStart, func(any) { calls++ })
	bus.On(TypingStart, func(any) { calls += 10 })

	if !bus.Off(TypingStart, first) {
		t.Fatalf("expected Off to find the registration")
	}
	if bus.Off(TypingStart, first) {
		t.Fatalf("expected second Off to report missing registration")
	}

	bus.Emit(TypingStart, nil)
	if calls != 10 {
		t.Fatalf("expected only the remaining handler to run, calls=%d", calls)
	}
	if bus.Count(TypingStart) != 1 {
		t.Fatalf("expected one handler left, got %d", bus.Count(TypingStart))
	}
}

func TestBusPanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus(nil)

	ran := false
	bus.On(ServerError, func(any) { panic("boom") })
	bus.On(ServerError, func(any) { ran = true })

	bus.Emit(ServerError, nil)

	if !ran {
		t.Fatalf("expected handler after panicking one to run")
	}
}

func TestBusHandlerMaySubscribeDuringEmit(t *testing.T) {
	bus := NewBus(nil)

	late := 0
	bus.On(Connected, func(any) {
		bus.On(Connected, func(any) { late++ })
	})

	bus.Emit(Connected, nil)
	if late != 0 {
		t.Fatalf("handler added during emit must not run in the same emit")
	}

	bus.Emit(Connected, nil)
	if late != 1 {
		t.Fatalf("expected late handler to run once, got %d", late)
	}
}

func TestSubscribeTyped(t *testing.T) {
	bus := NewBus(nil)

	var got []AuthErrorPayload
	Subscribe(bus, AuthError, func(p AuthErrorPayload) { got = append(got, p) })

	bus.Emit(AuthError, AuthErrorPayload{Message: "bad token"})
	bus.Emit(AuthError, "wrong type")

	if len(got) != 1 || got[0].Message != "bad token" {
		t.Fatalf("unexpected typed deliveries: %+v", got)
	}
}

func TestSubscriptionCloseRemovesAll(t *testing.T) {
	bus := NewBus(nil)

	sub := NewSubscription(bus)
	sub.Add(MessageNew, bus.On(MessageNew, func(any) {}))
	sub.Add(MessageDeleted, bus.On(MessageDeleted, func(any) {}))

	sub.Close()

	if bus.Count(MessageNew) != 0 || bus.Count(MessageDeleted) != 0 {
		t.Fatalf("expected all handlers removed")
	}
}
