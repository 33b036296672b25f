package asynchook

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/fieldsync"
)

type counting struct {
	fieldsync.NopHooks
	heals   atomic.Int32
	dropped atomic.Int32
	block   chan struct{}
}

func (c *counting) CacheSelfHeal(string, string, string) {
	if c.block != nil {
		<-c.block
	}
	c.heals.Add(1)
}

func (c *counting) OperationDropped(fieldsync.Operation, error) { c.dropped.Add(1) }

func TestDeliversAllBeforeClose(t *testing.T) {
	inner := &counting{}
	h := New(inner, 4, 100)
	for i := 0; i < 50; i++ {
		h.CacheSelfHeal("results", "k", "expired")
	}
	h.OperationDropped(fieldsync.Operation{ID: "1"}, nil)
	h.Close()

	assert.EqualValues(t, 50, inner.heals.Load())
	assert.EqualValues(t, 1, inner.dropped.Load())
	assert.Zero(t, h.Dropped())
}

func TestDropsWhenFullAndAfterClose(t *testing.T) {
	inner := &counting{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// first event occupies the worker, second fills the queue
	h.CacheSelfHeal("a", "1", "expired")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); h.CacheSelfHeal("a", "2", "expired") }()
	}
	wg.Wait()
	close(inner.block)
	h.Close()

	assert.Positive(t, h.Dropped())
	before := h.Dropped()
	h.ConnectivityChanged(true)
	assert.Equal(t, before+1, h.Dropped())
}
