package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"taskr/domain"
)

// Enqueuer sends one serialized audit record to a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload string) error
}

// QueueEnqueuer adapts an Azure Storage queue client to the Enqueuer
// interface.
type QueueEnqueuer struct {
	queue *azqueue.QueueClient
}

// NewQueueEnqueuer creates an Enqueuer backed by the named Azure Storage
// queue.
func NewQueueEnqueuer(connStr, queueName string) (*QueueEnqueuer, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		return nil, err
	}
	return &QueueEnqueuer{queue: q}, nil
}

func (q *QueueEnqueuer) Enqueue(ctx context.Context, payload string) error {
	_, err := q.queue.EnqueueMessage(ctx, payload, nil)
	return err
}

// Audit writes mutation records to a queue from a pool of workers so hub
// handlers never block on queue latency. Submission is best effort: records
// are dropped, with a log line, when the buffer stays full past the handoff
// timeout.
type Audit struct {
	jobs    chan domain.AuditRecord
	q       Enqueuer
	logger  *log.Logger
	timeout time.Duration
	handoff time.Duration
	wg      sync.WaitGroup
}

// NewAudit starts the worker pool. workers and buffer fall back to sane
// values when non-positive.
func NewAudit(q Enqueuer, workers, buffer int, timeout, handoff time.Duration, logger *log.Logger) *Audit {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 1024
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	a := &Audit{
		jobs:    make(chan domain.AuditRecord, buffer),
		q:       q,
		logger:  logger,
		timeout: timeout,
		handoff: handoff,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
	logger.Infof("audit writer started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, buffer, timeout, handoff)
	return a
}

// Submit hands a record to the pool. It returns false when the record was
// dropped because the buffer stayed full.
func (a *Audit) Submit(rec domain.AuditRecord) bool {
	select {
	case a.jobs <- rec:
		return true
	default:
	}

	if a.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(a.handoff)
	defer timer.Stop()
	select {
	case a.jobs <- rec:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops the workers after draining buffered records.
func (a *Audit) Close() {
	close(a.jobs)
	a.wg.Wait()
}

func (a *Audit) worker(id int) {
	defer a.wg.Done()
	for rec := range a.jobs {
		payload, err := json.Marshal(rec)
		if err != nil {
			a.logger.Errorf("audit marshal failed, err: %v, worker: %d", err, id)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err = a.q.Enqueue(ctx, string(payload))
		cancel()
		if err != nil {
			a.logger.Errorf("audit enqueue failed, err: %v, intent: %s, task: %d, worker: %d", err, rec.Intent, rec.TaskID, id)
		}
	}
}
