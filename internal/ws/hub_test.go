package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiananasiri/therapyconnect/internal/metrics"
)

func testClient(buffer int) *Client {
	return newClient(nil, buffer, time.Minute)
}

func TestHubTopicLifecycle(t *testing.T) {
	h := NewHub("chat", metrics.New(), nil)
	a, b := testClient(4), testClient(4)

	h.Join("CHAT_t1_p1", a)
	h.Join("CHAT_t1_p1", b)
	h.Join("CHAT_t2_p1", a)
	assert.Equal(t, 2, h.Topics())
	assert.Equal(t, 2, h.Members("CHAT_t1_p1"))

	h.Leave("CHAT_t1_p1", a)
	h.Leave("CHAT_t1_p1", a)
	assert.Equal(t, 1, h.Members("CHAT_t1_p1"))

	h.Leave("CHAT_t1_p1", b)
	h.Leave("CHAT_t2_p1", a)
	assert.Zero(t, h.Topics())
	assert.Zero(t, h.Members("CHAT_t1_p1"))
}

func TestHubPublish(t *testing.T) {
	h := NewHub("chat", metrics.New(), nil)
	a, b, other := testClient(4), testClient(4), testClient(4)
	h.Join("c1", a)
	h.Join("c1", b)
	h.Join("c2", other)

	n := h.Publish("c1", typingIndicatorFrame{Type: FrameTypingIndicator, UserID: "t1", IsTyping: true})
	assert.Equal(t, 2, n)
	assert.Zero(t, h.Publish("nobody", errorFrame{Type: FrameError}))

	for _, c := range []*Client{a, b} {
		require.Len(t, c.send, 1)
		var got map[string]any
		require.NoError(t, json.Unmarshal(<-c.send, &got))
		assert.Equal(t, "typing_indicator", got["type"])
		assert.Equal(t, true, got["is_typing"])
	}
	assert.Empty(t, other.send)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub("chat", metrics.New(), nil)
	slow, fast := testClient(1), testClient(8)
	h.Join("c", slow)
	h.Join("c", fast)

	assert.Equal(t, 2, h.Publish("c", errorFrame{Type: FrameError, Message: "1"}))
	assert.Equal(t, 1, h.Publish("c", errorFrame{Type: FrameError, Message: "2"}))

	assert.Equal(t, 1, h.Members("c"))
	select {
	case <-slow.done:
	default:
		t.Fatal("slow client was not closed")
	}
	assert.Equal(t, clientClosed, slow.enqueue([]byte("x")), "closed clients refuse frames")
	assert.Len(t, fast.send, 2)
}

func TestHubClosingClientIsNotADrop(t *testing.T) {
	m := metrics.New()
	h := NewHub("chat", m, nil)
	closing, full, ok := testClient(4), testClient(1), testClient(4)
	h.Join("c", closing)
	h.Join("c", full)
	h.Join("c", ok)
	require.Equal(t, queued, full.enqueue([]byte("x")))
	closing.Close()

	assert.Equal(t, 1, h.Publish("c", errorFrame{Type: FrameError, Message: "1"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayDrops.WithLabelValues("chat")), "only the full buffer counts")
	assert.Equal(t, 1, h.Members("c"))
	assert.Empty(t, closing.send)
}

func TestHubConcurrentJoinLeavePublish(t *testing.T) {
	h := NewHub("chat", metrics.New(), nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Publish("c", errorFrame{Type: FrameError})
			}
		}
	}()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := testClient(1024)
			for j := 0; j < 50; j++ {
				h.Join("c", c)
				h.Leave("c", c)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Zero(t, h.Topics())
}
