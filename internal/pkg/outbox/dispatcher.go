// Package outbox delivers durable side-effect rows. Messages are written in
// the same database transaction as the state change they announce; this
// dispatcher polls and delivers them afterwards, so a crash between commit and
// delivery loses nothing. Mail kinds go to a mail.Sender, enrollment jobs to
// the programs service.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/code2deploy/payments/app/models"
	"github.com/code2deploy/payments/internal/pkg/enrollment"
	"github.com/code2deploy/payments/internal/pkg/mail"
)

const (
	defaultBatchSize   = 20
	defaultMaxAttempts = 5

	// Enrollment grants access the user already paid for, so it is retried
	// far longer than a notification mail before an operator has to step in.
	enrollMaxAttempts = 240

	enrollTimeout = 15 * time.Second
)

// EnrollmentJob is the body payload of an enrollment outbox row.
type EnrollmentJob struct {
	UserID    uint `json:"user_id"`
	ProgramID uint `json:"program_id"`
}

// NewEnrollmentMessage builds the outbox row that grants program access after
// a completed payment.
func NewEnrollmentMessage(userID, programID uint) (*models.OutboxMessage, error) {
	body, err := json.Marshal(EnrollmentJob{UserID: userID, ProgramID: programID})
	if err != nil {
		return nil, err
	}
	return &models.OutboxMessage{
		Kind:   models.OutboxKindEnrollment,
		Body:   string(body),
		Status: models.OutboxStatusPending,
	}, nil
}

// Queue is the persistence surface the dispatcher drains. Marks are
// conditional on the row still being pending, so a second dispatcher replica
// cannot mark the same row twice.
type Queue interface {
	FetchPending(limit int) ([]models.OutboxMessage, error)
	MarkSent(id uint) error
	MarkFailed(id uint, attempts int, lastErr string, final bool) error
}

type gormQueue struct {
	db *gorm.DB
}

// NewQueue creates the database-backed outbox queue.
func NewQueue(db *gorm.DB) Queue {
	return &gormQueue{db: db}
}

func (q *gormQueue) FetchPending(limit int) ([]models.OutboxMessage, error) {
	var pending []models.OutboxMessage
	err := q.db.Where("status = ?", models.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&pending).Error
	return pending, err
}

func (q *gormQueue) MarkSent(id uint) error {
	return q.db.Model(&models.OutboxMessage{}).
		Where("id = ? AND status = ?", id, models.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":   models.OutboxStatusSent,
			"sent_at":  time.Now(),
			"attempts": gorm.Expr("attempts + 1"),
			"last_err": "",
		}).Error
}

func (q *gormQueue) MarkFailed(id uint, attempts int, lastErr string, final bool) error {
	status := models.OutboxStatusPending
	if final {
		status = models.OutboxStatusFailed
	}
	return q.db.Model(&models.OutboxMessage{}).
		Where("id = ? AND status = ?", id, models.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":   status,
			"attempts": attempts,
			"last_err": lastErr,
		}).Error
}

// Dispatcher polls pending outbox rows and delivers them by kind.
type Dispatcher struct {
	queue       Queue
	sender      mail.Sender
	enroller    enrollment.Enroller
	interval    time.Duration
	batchSize   int
	maxAttempts int

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewDispatcher creates a dispatcher polling at the given interval.
func NewDispatcher(queue Queue, sender mail.Sender, enroller enrollment.Enroller, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		queue:       queue,
		sender:      sender,
		enroller:    enroller,
		interval:    interval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
	}
}

// Start launches the polling loop. Safe to call more than once.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.stopCh = make(chan struct{})
	d.running = true
	d.ticker = time.NewTicker(d.interval)
	d.wg.Add(1)
	go d.loop()
	log.Info("[Outbox] Dispatcher started")
}

// Stop halts the loop and waits for an in-flight batch to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.ticker.Stop()
	close(d.stopCh)
	d.mu.Unlock()
	d.wg.Wait()
	log.Info("[Outbox] Dispatcher stopped")
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.ticker.C:
			if err := d.DispatchPending(); err != nil {
				log.Errorf("[Outbox] dispatch batch failed: %v", err)
			}
		}
	}
}

// DispatchPending sends one batch of pending messages. A crash after send but
// before the mark can re-send one message; notifications are written to
// tolerate that.
func (d *Dispatcher) DispatchPending() error {
	pending, err := d.queue.FetchPending(d.batchSize)
	if err != nil {
		return err
	}
	for i := range pending {
		d.dispatchOne(&pending[i])
	}
	return nil
}

func (d *Dispatcher) dispatchOne(msg *models.OutboxMessage) {
	var sendErr error
	limit := d.maxAttempts
	if msg.Kind == models.OutboxKindEnrollment {
		sendErr = d.enroll(msg)
		limit = enrollMaxAttempts
	} else {
		sendErr = d.sender.Send(msg.Recipient, msg.Subject, msg.Body)
	}
	if sendErr == nil {
		if err := d.queue.MarkSent(msg.ID); err != nil {
			log.Errorf("[Outbox] marking message %d sent failed: %v", msg.ID, err)
		}
		return
	}

	attempts := msg.Attempts + 1
	final := attempts >= limit
	if final {
		log.Errorf("[Outbox] giving up on message %d after %d attempts: %v", msg.ID, attempts, sendErr)
	}
	if err := d.queue.MarkFailed(msg.ID, attempts, sendErr.Error(), final); err != nil {
		log.Errorf("[Outbox] marking message %d failed: %v", msg.ID, err)
	}
}

func (d *Dispatcher) enroll(msg *models.OutboxMessage) error {
	var job EnrollmentJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), enrollTimeout)
	defer cancel()
	return d.enroller.Enroll(ctx, job.UserID, job.ProgramID)
}
