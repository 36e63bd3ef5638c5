package services

import (
	"context"
	"fmt"

	"catalog-import-service/internal/fileimport"
	"catalog-import-service/internal/models"

	"github.com/sirupsen/logrus"
)

// ImportProcessor is what the background worker runs for each task
type ImportProcessor struct {
	files      FileStore
	validation *ValidationEngine
	commit     *CommitEngine
	logger     *logrus.Entry
}

func NewImportProcessor(files FileStore, validation *ValidationEngine, commit *CommitEngine, logger *logrus.Logger) *ImportProcessor {
	return &ImportProcessor{
		files:      files,
		validation: validation,
		commit:     commit,
		logger:     logger.WithField("component", "processor"),
	}
}

// Validate downloads and parses the job's file, then stages its rows.
// A file that cannot be read fails the job rather than the task.
func (p *ImportProcessor) Validate(ctx context.Context, task models.ImportTask) error {
	log := p.logger.WithFields(logrus.Fields{"jobId": task.JobID, "tenantId": task.TenantID})

	reader, err := p.files.Open(ctx, task.FilePath)
	if err != nil {
		log.WithError(err).Warn("Import file could not be opened")
		return p.validation.Fail(ctx, task, fmt.Sprintf("import file could not be opened: %v", err))
	}
	defer reader.Close()

	sheet, err := fileimport.Parse(reader, task.FilePath)
	if err != nil {
		log.WithError(err).Warn("Import file could not be parsed")
		return p.validation.Fail(ctx, task, err.Error())
	}
	return p.validation.Run(ctx, task, sheet)
}

// Commit applies the staged rows of an approved job
func (p *ImportProcessor) Commit(ctx context.Context, task models.ImportTask) error {
	return p.commit.Run(ctx, task)
}
