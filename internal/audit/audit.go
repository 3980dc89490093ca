package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"fulfillment-service/internal/models"
)

type PoolConfig struct {
	BatchSize   int
	Timeout     time.Duration
	ChannelSize int
}

// Processor consumes committed audit event batches downstream of the ledger.
type Processor interface {
	Process(batch []models.AuditEvent) error
}

// DBProcessor writes batches into the audit_events table.
type DBProcessor struct {
	db *sql.DB
}

func NewDBProcessor(db *sql.DB) *DBProcessor {
	return &DBProcessor{db: db}
}

func (p *DBProcessor) Process(batch []models.AuditEvent) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_events (id, order_id, entity_name, entity_id, changed_parameter, old_value, new_value, updated_by, timestamp, seq) VALUES `)

	params := []interface{}{}
	paramIndex := 1
	for i, e := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			paramIndex, paramIndex+1, paramIndex+2, paramIndex+3, paramIndex+4,
			paramIndex+5, paramIndex+6, paramIndex+7, paramIndex+8, paramIndex+9))
		paramIndex += 10
		params = append(params, e.ID, e.OrderID, e.EntityName, e.EntityID,
			e.ChangedParameter, e.OldValue, e.NewValue, e.UpdatedBy, e.Timestamp, e.Seq)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	if _, err := p.db.Exec(sb.String(), params...); err != nil {
		return fmt.Errorf("DBProcessor error: %w", err)
	}
	return nil
}

// TaskCreator is the outbox side of the task repository.
type TaskCreator interface {
	CreateTask(ctx context.Context, auditData []byte) error
}

// OutboxProcessor stores each batch as an outbox task; the task processor
// later relays it to Kafka with retries.
type OutboxProcessor struct {
	tasks   TaskCreator
	marshal func(v interface{}) ([]byte, error)
}

func NewOutboxProcessor(tasks TaskCreator) *OutboxProcessor {
	return &OutboxProcessor{tasks: tasks, marshal: json.Marshal}
}

func (p *OutboxProcessor) Process(batch []models.AuditEvent) error {
	data, err := p.marshal(batch)
	if err != nil {
		return fmt.Errorf("OutboxProcessor marshal: %w", err)
	}
	if err := p.tasks.CreateTask(context.Background(), data); err != nil {
		return fmt.Errorf("OutboxProcessor error: %w", err)
	}
	return nil
}

// StdoutProcessor prints batches, optionally filtered by changed parameter.
type StdoutProcessor struct {
	Filter string
}

func (p *StdoutProcessor) Process(batch []models.AuditEvent) error {
	for _, e := range batch {
		if p.Filter != "" &&
			!strings.Contains(strings.ToLower(e.ChangedParameter), strings.ToLower(p.Filter)) {
			continue
		}
		fmt.Printf("AUDIT: %s | Order: %s | %s.%s: %s -> %s | By: %s\n",
			e.Timestamp.Format(time.RFC3339), e.OrderID, e.EntityName,
			e.ChangedParameter, e.OldValue, e.NewValue, e.UpdatedBy)
	}
	return nil
}

// WorkerPool fans audit events out to its processors in batches. A full
// channel drops events: delivery here is best effort, the ledger already
// holds the authoritative record.
type WorkerPool struct {
	inputCh    chan models.AuditEvent
	processors []Processor
	batchSize  int
	timeout    time.Duration

	wg sync.WaitGroup
}

func NewWorkerPool(cfg PoolConfig, processors ...Processor) *WorkerPool {
	return &WorkerPool{
		inputCh:    make(chan models.AuditEvent, cfg.ChannelSize),
		processors: processors,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
	}
}

func (p *WorkerPool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	var batch []models.AuditEvent
	timer := time.NewTimer(p.timeout)
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				p.processBatch(batch)
			}
			return
		case e := <-p.inputCh:
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				if !timer.Stop() {
					<-timer.C
				}
				p.processBatch(batch)
				batch = nil
				timer.Reset(p.timeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(batch)
				batch = nil
			}
			timer.Reset(p.timeout)
		}
	}
}

func (p *WorkerPool) processBatch(batch []models.AuditEvent) {
	for _, proc := range p.processors {
		if err := proc.Process(batch); err != nil {
			log.Printf("Error processing audit batch: %v", err)
		}
	}
}

// Publish enqueues committed events. Implements the engine's sink.
func (p *WorkerPool) Publish(events []models.AuditEvent) {
	for _, e := range events {
		select {
		case p.inputCh <- e:
		default:
			log.Println("Audit channel full, dropping event")
		}
	}
}

func (p *WorkerPool) Shutdown(cancel context.CancelFunc) {
	cancel()
	p.wg.Wait()
}
