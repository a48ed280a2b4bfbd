package notify

import (
	"strconv"
	"testing"
)

func TestHubDeliversByTopic(t *testing.T) {
	h := NewHub()
	all := h.Subscribe(TopicAll)
	one := h.Subscribe(TopicPhoto("p1"))

	h.Publish(TopicAll, StatusUpdate{PhotoID: "p1", Status: "QUEUED"})
	h.Publish(TopicPhoto("p1"), StatusUpdate{PhotoID: "p1", Status: "QUEUED"})
	h.Publish(TopicPhoto("p2"), StatusUpdate{PhotoID: "p2", Status: "QUEUED"})

	if got := <-all.C(); got.PhotoID != "p1" {
		t.Fatalf("broadcast subscriber got %+v", got)
	}
	if got := <-one.C(); got.PhotoID != "p1" {
		t.Fatalf("photo subscriber got %+v", got)
	}
	select {
	case got := <-one.C():
		t.Fatalf("photo subscriber received foreign update %+v", got)
	default:
	}
}

func TestHubAddAndRemoveTopics(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe()

	h.Publish(TopicPhoto("p1"), StatusUpdate{PhotoID: "p1"})
	select {
	case <-sub.C():
		t.Fatalf("received before subscribing to the topic")
	default:
	}

	h.Add(sub, TopicPhoto("p1"))
	h.Publish(TopicPhoto("p1"), StatusUpdate{PhotoID: "p1"})
	if got := <-sub.C(); got.PhotoID != "p1" {
		t.Fatalf("got %+v after Add", got)
	}

	h.Remove(sub, TopicPhoto("p1"))
	h.Publish(TopicPhoto("p1"), StatusUpdate{PhotoID: "p1"})
	select {
	case <-sub.C():
		t.Fatalf("received after Remove")
	default:
	}
}

func TestHubShedsOldestForSlowSubscriber(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(TopicAll)

	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		h.Publish(TopicAll, StatusUpdate{PhotoID: "p", Message: strconv.Itoa(i)})
	}

	var received []string
drain:
	for {
		select {
		case u := <-sub.C():
			received = append(received, u.Message)
		default:
			break drain
		}
	}
	if len(received) != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", len(received), subscriberBuffer)
	}
	if received[0] != strconv.Itoa(total-subscriberBuffer) {
		t.Fatalf("oldest surviving update = %s, want %d", received[0], total-subscriberBuffer)
	}
	if received[len(received)-1] != strconv.Itoa(total-1) {
		t.Fatalf("newest update = %s, want %d", received[len(received)-1], total-1)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(TopicAll, TopicPhoto("p1"))
	h.Unsubscribe(sub)

	if _, ok := <-sub.C(); ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
	// Publishing to the dropped topics must not panic.
	h.Publish(TopicAll, StatusUpdate{PhotoID: "p1"})
	h.Publish(TopicPhoto("p1"), StatusUpdate{PhotoID: "p1"})
}
