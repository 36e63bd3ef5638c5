package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"catalog-import-service/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

// Processor runs one import pass for a task
type Processor interface {
	Validate(ctx context.Context, task models.ImportTask) error
	Commit(ctx context.Context, task models.ImportTask) error
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeNak
	outcomeTerm
)

// Worker pulls tasks from both subjects. Durable consumer names are shared
// by every worker instance so each task is handled once.
type Worker struct {
	js          jetstream.JetStream
	processor   Processor
	concurrency int
	ackWait     time.Duration
	maxDeliver  int
	logger      *logrus.Entry
	wg          sync.WaitGroup
}

func NewWorker(nc *nats.Conn, processor Processor, concurrency int, logger *logrus.Logger) (*Worker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		js:          js,
		processor:   processor,
		concurrency: concurrency,
		ackWait:     10 * time.Minute,
		maxDeliver:  5,
		logger:      logger.WithField("component", "worker"),
	}, nil
}

// Start creates the consumers and begins pulling. It returns once the
// consumers exist; Wait blocks until ctx is cancelled and loops drain.
func (w *Worker) Start(ctx context.Context) error {
	if err := EnsureStream(ctx, w.js); err != nil {
		w.logger.WithError(err).Warn("Failed to ensure task stream (may already exist)")
	}

	for _, subject := range []string{SubjectValidate, SubjectCommit} {
		consumer, err := w.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
			Durable:       durableName(subject),
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       w.ackWait,
			MaxDeliver:    w.maxDeliver,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer for %s: %w", subject, err)
		}
		for i := 0; i < w.concurrency; i++ {
			w.wg.Add(1)
			go w.consume(ctx, subject, consumer)
		}
	}

	w.logger.WithField("concurrency", w.concurrency).Info("Import worker started")
	return nil
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func durableName(subject string) string {
	switch subject {
	case SubjectValidate:
		return "catalog-import-validator"
	case SubjectCommit:
		return "catalog-import-committer"
	}
	return ""
}

func (w *Worker) consume(ctx context.Context, subject string, consumer jetstream.Consumer) {
	defer w.wg.Done()
	log := w.logger.WithField("subject", subject)

	msgs, err := consumer.Messages()
	if err != nil {
		log.WithError(err).Error("Failed to get messages iterator")
		return
	}
	go func() {
		<-ctx.Done()
		msgs.Stop()
	}()

	for {
		msg, err := msgs.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Error getting next task")
			time.Sleep(time.Second)
			continue
		}

		switch w.process(ctx, msg.Subject(), msg.Data()) {
		case outcomeAck:
			err = msg.Ack()
		case outcomeNak:
			err = msg.Nak()
		case outcomeTerm:
			err = msg.Term()
		}
		if err != nil {
			log.WithError(err).Warn("Failed to acknowledge task")
		}
	}
}

// process runs the task and decides how the message is settled. Malformed
// payloads are terminated; processing errors are redelivered.
func (w *Worker) process(ctx context.Context, subject string, data []byte) outcome {
	task, err := decodeTask(data)
	if err != nil {
		w.logger.WithField("subject", subject).WithError(err).Error("Dropping malformed task")
		return outcomeTerm
	}
	log := w.logger.WithFields(logrus.Fields{
		"subject":  subject,
		"jobId":    task.JobID,
		"tenantId": task.TenantID,
	})

	start := time.Now()
	switch subject {
	case SubjectValidate:
		err = w.processor.Validate(ctx, task)
	case SubjectCommit:
		err = w.processor.Commit(ctx, task)
	default:
		log.Error("Dropping task on unknown subject")
		return outcomeTerm
	}
	if err != nil {
		log.WithError(err).Warn("Import task failed, will be redelivered")
		return outcomeNak
	}
	log.WithField("duration", time.Since(start).String()).Info("Import task processed")
	return outcomeAck
}
