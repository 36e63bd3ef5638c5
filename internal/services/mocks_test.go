package services

import (
	"context"
	"io"
	"testing"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDispatcher is a mock implementation of Dispatcher
type MockDispatcher struct {
	mock.Mock
}

var _ Dispatcher = (*MockDispatcher)(nil)

func (m *MockDispatcher) DispatchValidation(ctx context.Context, task models.ImportTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockDispatcher) DispatchCommit(ctx context.Context, task models.ImportTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// MockFileStore is a mock implementation of FileStore
type MockFileStore struct {
	mock.Mock
}

var _ FileStore = (*MockFileStore)(nil)

func (m *MockFileStore) Exists(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func (m *MockFileStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// seedJob stores a job directly in the given state
func seedJob(t *testing.T, store *repository.Store, tenantID string, status models.ImportStatus, mode models.ImportMode) *models.ImportJob {
	t.Helper()
	job := &models.ImportJob{
		TenantID: tenantID,
		Filename: "catalog.csv",
		FilePath: tenantID + "/job/catalog.csv",
		Mode:     mode,
		Status:   status,
		Summary:  models.ImportSummary{PendingApprovals: []models.PendingApproval{}},
	}
	require.NoError(t, store.Imports.CreateJob(context.Background(), job))
	return job
}

func reloadJob(t *testing.T, store *repository.Store, job *models.ImportJob) *models.ImportJob {
	t.Helper()
	fresh, err := store.Imports.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	return fresh
}
