package tasks

import (
	"context"
	"fmt"

	"catalog-import-service/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Dispatcher publishes import tasks and waits for the stream to store them,
// so a failed dispatch is visible to the caller.
type Dispatcher struct {
	js     publisher
	logger *logrus.Entry
}

func NewDispatcher(ctx context.Context, nc *nats.Conn, logger *logrus.Logger) (*Dispatcher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := EnsureStream(ctx, js); err != nil {
		logger.WithError(err).Warn("Failed to ensure task stream (may already exist)")
	}
	return newDispatcher(js, logger), nil
}

func newDispatcher(js publisher, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{js: js, logger: logger.WithField("component", "dispatcher")}
}

func (d *Dispatcher) DispatchValidation(ctx context.Context, task models.ImportTask) error {
	return d.publish(ctx, SubjectValidate, task)
}

func (d *Dispatcher) DispatchCommit(ctx context.Context, task models.ImportTask) error {
	return d.publish(ctx, SubjectCommit, task)
}

func (d *Dispatcher) publish(ctx context.Context, subject string, task models.ImportTask) error {
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	log := d.logger.WithFields(logrus.Fields{
		"subject":  subject,
		"jobId":    task.JobID,
		"tenantId": task.TenantID,
	})
	ack, err := d.js.Publish(ctx, subject, data)
	if err != nil {
		log.WithError(err).Error("Failed to publish import task")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	log.WithField("sequence", ack.Sequence).Info("Import task published")
	return nil
}
