package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/s1_import"
	"github.com/wonny/heatrank/backend/pkg/logger"
)

// Inbox subdirectories
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

var inboxExtensions = map[string]bool{".txt": true, ".tsv": true, ".csv": true, ".xlsx": true}

// Submitter is the importer entry point used by the inbox job
type Submitter interface {
	Submit(ctx context.Context, req s1_import.ImportRequest, r io.Reader) (*contracts.ImportSummary, error)
}

// InboxImportJob imports every file dropped into a directory.
// The import type is the file name prefix before the first '_', '.' or '-'
// (volume_2025-09-06.txt, heat.csv, heat-export.xlsx). Files end up in
// processed/ or failed/ with a .summary.json next to them.
// ⭐ SSOT: unattended imports run through this job only
type InboxImportJob struct {
	importer Submitter
	dir      string
	schedule string
	logger   *logger.Logger
	now      func() time.Time
}

// NewInboxImportJob creates a new inbox import job
func NewInboxImportJob(importer Submitter, dir, schedule string, log *logger.Logger) *InboxImportJob {
	return &InboxImportJob{
		importer: importer,
		dir:      dir,
		schedule: schedule,
		logger:   log.Module("inbox"),
		now:      time.Now,
	}
}

// Name returns the job name
func (j *InboxImportJob) Name() string {
	return "inbox_import"
}

// Schedule returns the cron schedule
func (j *InboxImportJob) Schedule() string {
	return j.schedule
}

// Run imports pending files oldest name first
func (j *InboxImportJob) Run(ctx context.Context) error {
	files, err := j.pending()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	j.logger.WithField("files", len(files)).Info("Importing inbox files")

	var failed int
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := j.importFile(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			failed++
		}
	}

	if failed > 0 {
		j.logger.WithFields(map[string]interface{}{
			"files":  len(files),
			"failed": failed,
		}).Warn("Inbox run finished with failures")
	}
	return nil
}

// pending lists importable regular files in the inbox
func (j *InboxImportJob) pending() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox %s: %w", j.dir, err)
	}

	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if inboxExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// TypeFromFileName returns the import type named by the file prefix
func TypeFromFileName(name string) (contracts.ImportType, bool) {
	base := strings.ToLower(filepath.Base(name))
	if i := strings.IndexAny(base, "_.-"); i > 0 {
		base = base[:i]
	}
	spec, err := contracts.LookupImportType(base)
	if err != nil {
		return "", false
	}
	return spec.Type, true
}

// importFile reports whether the file was imported successfully. Only a
// cancelled context or a file system failure is returned as an error.
func (j *InboxImportJob) importFile(ctx context.Context, name string) (bool, error) {
	path := filepath.Join(j.dir, name)
	log := j.logger.WithField("file", name)

	t, ok := TypeFromFileName(name)
	if !ok {
		log.Warn("No import type prefix, moving to failed")
		return false, j.finish(name, FailedDir, map[string]string{"error": "unknown import type prefix"})
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	summary, err := j.importer.Submit(ctx, s1_import.ImportRequest{
		FileName:   name,
		UploadedBy: "inbox",
		ImportType: string(t),
	}, f)
	f.Close()

	if err != nil {
		if ctx.Err() != nil {
			// left in place for the next run
			return false, ctx.Err()
		}
		log.WithError(err).Error("Inbox import rejected")
		return false, j.finish(name, FailedDir, map[string]string{"error": err.Error()})
	}

	dest := ProcessedDir
	if !summary.Success {
		dest = FailedDir
	}
	log.WithFields(map[string]interface{}{
		"batch_id": summary.BatchID,
		"imported": summary.ImportedRecords,
		"errors":   summary.ErrorRecords,
		"success":  summary.Success,
	}).Info("Inbox file imported")

	return summary.Success, j.finish(name, dest, summary)
}

// finish moves the file into sub and writes the outcome beside it
func (j *InboxImportJob) finish(name, sub string, outcome interface{}) error {
	dir := filepath.Join(j.dir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	target := j.now().UTC().Format("20060102T150405") + "_" + name
	if err := os.Rename(filepath.Join(j.dir, name), filepath.Join(dir, target)); err != nil {
		return fmt.Errorf("move %s: %w", name, err)
	}

	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, target+".summary.json"), data, 0o644)
}
