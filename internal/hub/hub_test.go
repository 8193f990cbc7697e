package hub

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/sirupsen/logrus"

	"mysql-livefeed/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeConn records written messages; writes can be made to fail or block.
type fakeConn struct {
	mu       sync.Mutex
	messages []*models.Message
	writeErr error
	block    chan struct{} // non-nil: WriteJSON waits until closed
	closed   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()
	if block != nil {
		<-block
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.messages = append(c.messages, v.(*models.Message))
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, msg := range c.messages {
		out[i] = msg.Type
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// fakeLister serves snapshots; Release gates the fetch when Gate is set.
type fakeLister struct {
	entities []map[string]interface{}
	err      error
	gate     chan struct{}
}

func (l *fakeLister) ListAll(ctx context.Context) ([]map[string]interface{}, error) {
	if l.gate != nil {
		<-l.gate
	}
	return l.entities, l.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func event(id int64) *models.Message {
	return &models.Message{
		Type:      models.OpInsert,
		Data:      map[string]interface{}{"id": id},
		Timestamp: time.Now(),
		ChangeID:  id,
	}
}

func TestSnapshotSentOnJoin(t *testing.T) {
	lister := &fakeLister{entities: []map[string]interface{}{
		{"id": int64(1), "name": "Alice", "status": "pending"},
	}}
	h := NewHub(lister, 0, 0, testLogger())
	conn := &fakeConn{}

	_, err := h.Register(context.Background(), conn)
	assert.Equal(t, err, nil)
	assert.Equal(t, h.Len(), 1)

	waitFor(t, func() bool { return conn.count() == 1 })
	assert.Equal(t, conn.types(), []string{"INITIAL_DATA"})

	conn.mu.Lock()
	data := conn.messages[0].Data.([]map[string]interface{})
	conn.mu.Unlock()
	assert.Equal(t, len(data), 1)
	assert.Equal(t, data[0]["name"], "Alice")
}

func TestSnapshotPrecedesEventsPublishedDuringFetch(t *testing.T) {
	lister := &fakeLister{gate: make(chan struct{})}
	h := NewHub(lister, 0, 0, testLogger())
	conn := &fakeConn{}

	done := make(chan struct{})
	go func() {
		h.Register(context.Background(), conn)
		close(done)
	}()

	// The connection is registered for live delivery before the snapshot
	// fetch completes: an event published now must not be lost.
	waitFor(t, func() bool { return h.Len() == 1 })
	assert.Equal(t, h.Publish(event(42)), nil)

	close(lister.gate)
	<-done

	waitFor(t, func() bool { return conn.count() == 2 })
	assert.Equal(t, conn.types(), []string{"INITIAL_DATA", "INSERT"})
	conn.mu.Lock()
	changeID := conn.messages[1].ChangeID
	conn.mu.Unlock()
	assert.Equal(t, changeID, int64(42))
}

func TestPublishOrderingPerConnection(t *testing.T) {
	h := NewHub(&fakeLister{}, 0, 0, testLogger())
	conn := &fakeConn{}
	_, err := h.Register(context.Background(), conn)
	assert.Equal(t, err, nil)
	waitFor(t, func() bool { return conn.count() == 1 })

	for i := int64(1); i <= 20; i++ {
		h.Publish(event(i))
	}

	waitFor(t, func() bool { return conn.count() == 21 })
	conn.mu.Lock()
	defer conn.mu.Unlock()
	for i := 1; i <= 20; i++ {
		assert.Equal(t, conn.messages[i].ChangeID, int64(i))
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := NewHub(&fakeLister{}, 2, 0, testLogger())

	slow := &fakeConn{block: make(chan struct{})}
	healthy := &fakeConn{}
	_, err := h.Register(context.Background(), slow)
	assert.Equal(t, err, nil)
	_, err = h.Register(context.Background(), healthy)
	assert.Equal(t, err, nil)
	waitFor(t, func() bool { return healthy.count() == 1 })
	assert.Equal(t, h.Len(), 2)

	// The slow connection's write pump is stuck on its snapshot write. Its
	// buffer absorbs two events, then it gets dropped; the healthy
	// connection sees everything and each publish returns promptly.
	for i := int64(1); i <= 5; i++ {
		start := time.Now()
		h.Publish(event(i))
		assert.Equal(t, time.Since(start) < 500*time.Millisecond, true)
	}

	waitFor(t, func() bool { return healthy.count() == 6 })
	waitFor(t, func() bool { return h.Len() == 1 })

	slow.mu.Lock()
	slowClosed := slow.closed
	slow.mu.Unlock()
	assert.Equal(t, slowClosed, true)

	close(slow.block)
}

func TestWriteFailureDropsOnlyThatSubscriber(t *testing.T) {
	h := NewHub(&fakeLister{}, 0, 0, testLogger())

	failing := &fakeConn{writeErr: errors.New("broken pipe")}
	healthy := &fakeConn{}
	h.Register(context.Background(), failing)
	h.Register(context.Background(), healthy)

	waitFor(t, func() bool { return h.Len() == 1 })

	h.Publish(event(1))
	waitFor(t, func() bool { return healthy.count() == 2 })
	assert.Equal(t, healthy.types(), []string{"INITIAL_DATA", "INSERT"})
}

func TestSnapshotFetchFailureClosesConnection(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	h := NewHub(lister, 0, 0, testLogger())
	conn := &fakeConn{}

	_, err := h.Register(context.Background(), conn)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, h.Len(), 0)

	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	})
}

func TestCloseDropsAllSubscribers(t *testing.T) {
	h := NewHub(&fakeLister{}, 0, 0, testLogger())
	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = &fakeConn{}
		_, err := h.Register(context.Background(), conns[i])
		assert.Equal(t, err, nil)
	}
	assert.Equal(t, h.Len(), 5)

	h.Close()
	assert.Equal(t, h.Len(), 0)
	for _, conn := range conns {
		c := conn
		waitFor(t, func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.closed
		})
	}
}

func TestConcurrentJoinLeavePublish(t *testing.T) {
	h := NewHub(&fakeLister{}, 0, 0, testLogger())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			conn := &fakeConn{}
			client, err := h.Register(context.Background(), conn)
			if err != nil {
				continue
			}
			if i%2 == 0 {
				h.drop(client, "test churn", nil)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 200; i++ {
			h.Publish(event(i))
		}
	}()
	wg.Wait()

	// Survivors are the odd joins.
	assert.Equal(t, h.Len(), 25)
	h.Close()
	assert.Equal(t, h.Len(), 0)
}

func TestJoinerGetsSnapshotNotPreJoinEvents(t *testing.T) {
	// The snapshot already reflects state from changes delivered before the
	// join; only changes published afterward arrive over the live channel.
	lister := &fakeLister{entities: []map[string]interface{}{
		{"id": int64(10), "status": "pending"},
	}}
	h := NewHub(lister, 0, 0, testLogger())

	h.Publish(event(10))

	conn := &fakeConn{}
	_, err := h.Register(context.Background(), conn)
	assert.Equal(t, err, nil)
	waitFor(t, func() bool { return conn.count() == 1 })

	h.Publish(event(11))
	waitFor(t, func() bool { return conn.count() == 2 })

	assert.Equal(t, conn.types(), []string{"INITIAL_DATA", "INSERT"})
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, conn.messages[1].ChangeID, int64(11))
}

func TestPublishToNoSubscribers(t *testing.T) {
	h := NewHub(&fakeLister{}, 0, 0, testLogger())
	for i := int64(1); i <= 3; i++ {
		assert.Equal(t, h.Publish(event(i)), nil)
	}
	assert.Equal(t, h.Len(), 0)
}
