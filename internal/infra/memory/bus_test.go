package memory

import (
	"context"
	"testing"

	"math-battle/internal/domain"
)

func TestBusFansOutPerRoom(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(4)

	a, cancelA, _ := bus.Subscribe(ctx, "party:AAAA")
	defer cancelA()
	b, cancelB, _ := bus.Subscribe(ctx, "party:AAAA")
	defer cancelB()
	other, cancelOther, _ := bus.Subscribe(ctx, "party:BBBB")
	defer cancelOther()

	_ = bus.Publish(ctx, domain.Envelope{Kind: domain.KindBroadcast, Room: "party:AAAA", Event: domain.EventStart})

	for _, ch := range []<-chan domain.Envelope{a, b} {
		if env := <-ch; env.Event != domain.EventStart {
			t.Fatalf("unexpected envelope %+v", env)
		}
	}
	select {
	case env := <-other:
		t.Fatalf("other room received %+v", env)
	default:
	}
}

func TestBusDropsSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(1)

	slow, cancel, _ := bus.Subscribe(ctx, "party:AAAA")
	defer cancel()

	_ = bus.Publish(ctx, domain.Envelope{Room: "party:AAAA", Event: "one"})
	_ = bus.Publish(ctx, domain.Envelope{Room: "party:AAAA", Event: "two"})

	if env := <-slow; env.Event != "one" {
		t.Fatalf("expected first envelope, got %+v", env)
	}
	if _, ok := <-slow; ok {
		t.Fatalf("expected slow subscriber to be closed")
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(1)
	ch, cancel, _ := bus.Subscribe(context.Background(), "party:AAAA")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}
