package eventbus

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New[string](4)
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubA()
	defer unsubC()

	b.Publish("ready")

	for _, ch := range []<-chan string{a, c} {
		if got := <-ch; got != "ready" {
			t.Errorf("Expected ready, got %s", got)
		}
	}
}

func TestSlowConsumerIsSkipped(t *testing.T) {
	b := New[int](1)
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(1)
	b.Publish(2)

	if got := <-ch; got != 1 {
		t.Errorf("Expected first value, got %d", got)
	}
	if b.Dropped() != 1 {
		t.Errorf("Expected 1 drop, got %d", b.Dropped())
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New[int](0)
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed")
	}
	if b.Len() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", b.Len())
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := New[int](0)
	ch, unsub := b.Subscribe()
	b.Close()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed")
	}

	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
	b.Publish(1)
}
