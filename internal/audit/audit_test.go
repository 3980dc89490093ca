package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-service/internal/models"
)

type captureProcessor struct {
	mu      sync.Mutex
	batches [][]models.AuditEvent
}

func (p *captureProcessor) Process(batch []models.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]models.AuditEvent, len(batch))
	copy(cp, batch)
	p.batches = append(p.batches, cp)
	return nil
}

func (p *captureProcessor) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func event(orderID, param string) models.AuditEvent {
	return models.AuditEvent{
		ID:               orderID + "-" + param,
		OrderID:          orderID,
		EntityName:       "Order",
		EntityID:         orderID,
		ChangedParameter: param,
		NewValue:         "Open",
		UpdatedBy:        "system",
		Timestamp:        time.Now().UTC(),
	}
}

func TestWorkerPoolFlushesFullBatch(t *testing.T) {
	proc := &captureProcessor{}
	pool := NewWorkerPool(PoolConfig{BatchSize: 2, Timeout: time.Hour, ChannelSize: 16}, proc)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)

	pool.Publish([]models.AuditEvent{event("ORD-1", "status"), event("ORD-2", "status")})

	assert.Eventually(t, func() bool { return proc.total() == 2 }, time.Second, 10*time.Millisecond)
	pool.Shutdown(cancel)
}

func TestWorkerPoolFlushesOnTimeout(t *testing.T) {
	proc := &captureProcessor{}
	pool := NewWorkerPool(PoolConfig{BatchSize: 100, Timeout: 20 * time.Millisecond, ChannelSize: 16}, proc)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)

	pool.Publish([]models.AuditEvent{event("ORD-1", "status")})

	assert.Eventually(t, func() bool { return proc.total() == 1 }, time.Second, 10*time.Millisecond)
	pool.Shutdown(cancel)
}

func TestWorkerPoolDrainsOnShutdown(t *testing.T) {
	proc := &captureProcessor{}
	pool := NewWorkerPool(PoolConfig{BatchSize: 100, Timeout: time.Hour, ChannelSize: 16}, proc)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx, 1)

	pool.Publish([]models.AuditEvent{event("ORD-1", "status")})

	// Give the worker a moment to pull the event into its batch.
	assert.Eventually(t, func() bool { return len(pool.inputCh) == 0 }, time.Second, 5*time.Millisecond)
	pool.Shutdown(cancel)

	assert.Equal(t, 1, proc.total())
}

type captureTasks struct {
	mu   sync.Mutex
	data [][]byte
}

func (c *captureTasks) CreateTask(_ context.Context, auditData []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, auditData)
	return nil
}

func TestOutboxProcessorMarshalsBatch(t *testing.T) {
	tasks := &captureTasks{}
	proc := NewOutboxProcessor(tasks)

	batch := []models.AuditEvent{event("ORD-1", "status"), event("ORD-1", "note")}
	require.NoError(t, proc.Process(batch))

	require.Len(t, tasks.data, 1)
	var decoded []models.AuditEvent
	require.NoError(t, json.Unmarshal(tasks.data[0], &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "ORD-1", decoded[0].OrderID)
	assert.Equal(t, "note", decoded[1].ChangedParameter)
}
