// Package tasks carries import jobs between the API and the worker over
// NATS JetStream.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	StreamName      = "CATALOG_IMPORT_TASKS"
	SubjectValidate = "catalog.import.validate"
	SubjectCommit   = "catalog.import.commit"
)

// Connect opens a NATS connection that keeps reconnecting in the background
func Connect(url, name string, logger *logrus.Logger) (*nats.Conn, error) {
	log := logger.WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("Disconnected from NATS")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// EnsureStream creates the work queue stream holding both task subjects
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectValidate, SubjectCommit},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    24 * time.Hour * 7,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure %s stream: %w", StreamName, err)
	}
	return nil
}

func encodeTask(task models.ImportTask) ([]byte, error) {
	return json.Marshal(task)
}

func decodeTask(data []byte) (models.ImportTask, error) {
	var task models.ImportTask
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("malformed import task: %w", err)
	}
	if task.TenantID == "" || task.FilePath == "" {
		return task, fmt.Errorf("malformed import task: tenantId and filePath are required")
	}
	return task, nil
}
