package s1_import

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/profile"
	"github.com/wonny/heatrank/backend/internal/s0_parse"
	"github.com/wonny/heatrank/backend/internal/tasks"
	"github.com/wonny/heatrank/backend/pkg/logger"
	"github.com/wonny/heatrank/backend/pkg/metrics"
)

// ErrInvalidRequest wraps request validation failures
var ErrInvalidRequest = errors.New("invalid import request")

// ImportRequest describes one submission
type ImportRequest struct {
	FileName    string `json:"file_name" validate:"required,max=255"`
	UploadedBy  string `json:"uploaded_by" validate:"max=64"`
	ImportType  string `json:"import_type" validate:"required,import_type"`
	Mode        string `json:"mode" validate:"omitempty,oneof=update append replace sync"`
	Format      string `json:"format" validate:"omitempty,oneof=tsv wide xlsx"`
	TradingDate string `json:"trading_date" validate:"omitempty,datetime=2006-01-02"`
}

// MembershipLearner stores concept memberships carried by wide imports
type MembershipLearner interface {
	Learn(ctx context.Context, records []contracts.NormalizedRecord) (int, error)
}

// Maintainer refreshes table statistics after a load
type Maintainer interface {
	Maintain(ctx context.Context, opts MaintainOptions) error
}

// Deps are the collaborators of a Coordinator. Learner, Maintainer and
// Metrics are optional.
type Deps struct {
	Store      contracts.MetricStore
	Deriver    contracts.Deriver
	Tracker    *tasks.Tracker
	Locks      DateLocker
	Learner    MembershipLearner
	Maintainer Maintainer
	Metrics    *metrics.Metrics
}

// Coordinator runs S0 parse → S1 write → S2/S3 derive per date group
// ⭐ SSOT: every import and recompute enters here
type Coordinator struct {
	deps     Deps
	prof     *profile.Profile
	tempDir  string
	log      *logger.Logger
	validate *validator.Validate
}

// NewCoordinator creates a new coordinator
func NewCoordinator(deps Deps, prof *profile.Profile, tempDir string, log *logger.Logger) *Coordinator {
	if prof == nil {
		prof = profile.Default()
	}
	if deps.Locks == nil {
		deps.Locks = NewMemoryLocks()
	}

	v := validator.New()
	_ = v.RegisterValidation("import_type", func(fl validator.FieldLevel) bool {
		_, err := contracts.LookupImportType(fl.Field().String())
		return err == nil
	})

	return &Coordinator{
		deps:     deps,
		prof:     prof,
		tempDir:  tempDir,
		log:      log.Module("import"),
		validate: v,
	}
}

// resolvedRequest is an ImportRequest after defaults and validation
type resolvedRequest struct {
	ImportRequest
	spec   contracts.ImportTypeSpec
	mode   contracts.OverwriteMode
	format contracts.Format
	date   time.Time
}

func (c *Coordinator) resolve(req ImportRequest) (*resolvedRequest, error) {
	req.ImportType = strings.ToLower(strings.TrimSpace(req.ImportType))
	req.Mode = strings.ToLower(strings.TrimSpace(req.Mode))
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))

	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	spec, _ := contracts.LookupImportType(req.ImportType)
	out := &resolvedRequest{ImportRequest: req, spec: spec}

	modeName := req.Mode
	if modeName == "" {
		modeName = c.prof.Import.DefaultMode
	}
	mode, err := contracts.ParseOverwriteMode(modeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	out.mode = mode

	if req.Format != "" {
		out.format = contracts.Format(req.Format)
	} else {
		out.format = InferFormat(req.FileName, spec)
	}

	if req.TradingDate != "" {
		out.date, _ = contracts.ParseDate(req.TradingDate)
	}
	return out, nil
}

// InferFormat picks the layout from the file extension, else the type default
func InferFormat(fileName string, spec contracts.ImportTypeSpec) contracts.Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx":
		return contracts.FormatXLSX
	case ".csv":
		return contracts.FormatWide
	case ".tsv":
		return contracts.FormatTSV
	}
	return spec.DefaultFormat
}

// importJob carries the state of one Submit call
type importJob struct {
	batchID string
	req     *resolvedRequest
	sink    *collector
	summary *contracts.ImportSummary
}

// Submit parses r, then writes and derives each date group in ascending
// date order. Every date group gets its own task; a failing group does not
// affect the others. The returned error is non-nil only for invalid
// requests, task store failures and cancellation.
func (c *Coordinator) Submit(ctx context.Context, req ImportRequest, r io.Reader) (*contracts.ImportSummary, error) {
	start := time.Now()

	rr, err := c.resolve(req)
	if err != nil {
		return nil, err
	}

	job := &importJob{
		batchID: uuid.NewString(),
		req:     rr,
		sink:    newCollector(NewGroupSpool(c.tempDir, c.prof.Import.SpillThreshold), c.prof.Import.WarningSamples),
	}
	defer job.sink.spool.Close()

	job.summary = &contracts.ImportSummary{
		BatchID:    job.batchID,
		FileName:   rr.FileName,
		ImportType: rr.spec.Type,
		Mode:       rr.mode,
		Dates:      []contracts.DateBreakdown{},
		TaskIDs:    []int64{},
	}

	log := c.log.WithFields(map[string]interface{}{
		"batch_id":    job.batchID,
		"file":        rr.FileName,
		"import_type": rr.spec.Type,
		"mode":        rr.mode,
		"format":      rr.format,
	})
	log.Info("Import started")

	stats, parseErr := s0_parse.Parse(ctx, c.parseOptions(rr), r, job.sink)
	if parseErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if stats != nil {
		job.summary.ErrorRecords = stats.Errors
		job.summary.TotalRecords = stats.Records + stats.Errors
	}
	job.summary.Warnings = append(job.summary.Warnings, job.sink.samples...)

	dates := job.sink.dates()
	if parseErr != nil || len(dates) == 0 {
		if parseErr == nil {
			parseErr = contracts.ErrEmptyInput
		}
		if err := c.recordUnreadable(ctx, job, parseErr); err != nil {
			return nil, err
		}
		c.finishSummary(job, start)
		log.WithError(parseErr).Warn("Import produced no date groups")
		return job.summary, nil
	}

	// errors without a date belong to the only date group when there is one
	if len(dates) == 1 && job.sink.unattributed > 0 {
		job.sink.dateErrors[dates[0]] += job.sink.unattributed
		job.sink.unattributed = 0
	} else if job.sink.unattributed > 0 {
		job.summary.Warnings = append(job.summary.Warnings,
			fmt.Sprintf("%d lines could not be attributed to a trading date", job.sink.unattributed))
	}

	for i, dateKey := range dates {
		if err := ctx.Err(); err != nil {
			job.summary.Warnings = append(job.summary.Warnings,
				fmt.Sprintf("cancelled before %s; %d date groups not processed", dateKey, len(dates)-i))
			c.finishSummary(job, start)
			return job.summary, err
		}

		task, err := c.processDate(ctx, job, dateKey)
		if err != nil {
			return nil, err
		}
		job.sink.spool.Release(dateKey)

		job.summary.TaskIDs = append(job.summary.TaskIDs, task.ID)
		job.summary.Dates = append(job.summary.Dates, *task.Breakdown)
		job.summary.ImportedRecords += task.ImportedRecords
		job.summary.SkippedRecords += task.SkippedRecords
	}

	c.maintainAfterLoad(ctx, job)
	c.finishSummary(job, start)

	log.WithFields(map[string]interface{}{
		"dates":    len(dates),
		"imported": job.summary.ImportedRecords,
		"errors":   job.summary.ErrorRecords,
		"skipped":  job.summary.SkippedRecords,
		"success":  job.summary.Success,
		"spills":   job.sink.spool.Spills(),
	}).Info("Import finished")

	return job.summary, nil
}

func (c *Coordinator) parseOptions(rr *resolvedRequest) s0_parse.Options {
	chunk := c.prof.Import.ChunkSizeKB * 1024
	opts := s0_parse.Options{
		ImportType:  rr.spec,
		Format:      rr.format,
		FileName:    rr.FileName,
		TradingDate: rr.date,
		ChunkSize:   chunk,
	}
	if kb := c.prof.Import.ReadRateKBPerSec; kb > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(kb*1024), max(chunk, kb*1024))
	}
	if len(c.prof.Wide.HeaderAliases) > 0 {
		opts.Aliases = s0_parse.MergeAliases(c.prof.Wide.HeaderAliases)
	}
	return opts
}

// processDate runs one date group under its lock and finalizes its task
func (c *Coordinator) processDate(ctx context.Context, job *importJob, dateKey string) (*contracts.ImportTask, error) {
	started := time.Now()
	rr := job.req
	date, err := contracts.ParseDate(dateKey)
	if err != nil {
		return nil, err
	}

	errCount := job.sink.dateErrors[dateKey]
	bd := &contracts.DateBreakdown{
		Date:        dateKey,
		Errors:      errCount,
		ErrorSample: job.sink.dateSamples[dateKey],
	}
	task := &contracts.ImportTask{
		BatchID:      job.batchID,
		ImportType:   rr.spec.Type,
		TradingDate:  &date,
		FileName:     rr.FileName,
		UploadedBy:   rr.UploadedBy,
		Mode:         rr.mode,
		ErrorRecords: errCount,
		Breakdown:    bd,
	}
	if err := c.deps.Tracker.Start(ctx, task); err != nil {
		return nil, err
	}

	// finalization must land even when ctx is cancelled mid-group
	finalCtx := context.WithoutCancel(ctx)

	records, err := job.sink.spool.Load(dateKey)
	if err != nil {
		return task, c.fail(finalCtx, task, err, started)
	}
	task.TotalRecords = len(records) + errCount
	bd.Total = task.TotalRecords

	if len(records) == 0 {
		return task, c.fail(finalCtx, task, errors.New("no valid records for date"), started)
	}

	release, err := c.deps.Locks.TryLock(ctx, rr.spec.Type, date)
	if err != nil {
		var conflict *contracts.WriteConflictError
		if errors.As(err, &conflict) {
			c.deps.Metrics.LockConflict(string(rr.spec.Type))
		}
		return task, c.fail(finalCtx, task, err, started)
	}
	defer release()

	var existing map[string]struct{}
	if NeedsExisting(rr.mode) {
		existing, err = c.deps.Store.ExistingCodes(ctx, rr.spec.Type, date)
		if err != nil {
			return task, c.fail(finalCtx, task, &contracts.TransactionError{Date: date, Op: "read", Err: err}, started)
		}
	}

	plan, skipped := BuildPlan(rr.mode, rr.spec.Type, date, job.batchID, records, existing)
	task.SkippedRecords = skipped
	bd.Skipped = skipped

	res, err := c.deps.Store.Apply(ctx, plan)
	if err != nil {
		return task, c.fail(finalCtx, task, err, started)
	}
	bd.Inserted, bd.Updated, bd.Deleted = res.Inserted, res.Updated, res.Deleted
	task.ImportedRecords = res.Inserted + res.Updated
	bd.Imported = task.ImportedRecords

	c.learnMemberships(ctx, job, records)

	derived, err := c.deps.Deriver.Derive(ctx, rr.spec.Type, date)
	if err != nil {
		c.deps.Metrics.DeriveFailed(string(rr.spec.Type))
		bd.Error = err.Error()
		task.ErrorDetail = err.Error()
	} else {
		bd.DerivedOK = true
		bd.Concepts = derived.Concepts
		bd.NewHighs = derived.NewHighs
	}

	status := contracts.ResolveStatus(task.ImportedRecords, errCount, !bd.DerivedOK)
	if err := c.deps.Tracker.Finish(finalCtx, task, status); err != nil {
		return nil, err
	}

	c.observe(task, started)
	return task, nil
}

// fail finalizes task as failed with cause; only a task store failure is returned
func (c *Coordinator) fail(ctx context.Context, task *contracts.ImportTask, cause error, started time.Time) error {
	task.ErrorDetail = cause.Error()
	task.ImportedRecords = 0
	if task.Breakdown != nil {
		task.Breakdown.Error = cause.Error()
		task.Breakdown.Imported = 0
	}

	c.log.WithError(cause).WithField("date", dateField(task.TradingDate)).Warn("Date group failed")

	if err := c.deps.Tracker.Finish(ctx, task, contracts.TaskFailed); err != nil {
		return err
	}
	c.observe(task, started)
	return nil
}

func (c *Coordinator) observe(task *contracts.ImportTask, started time.Time) {
	t := string(task.ImportType)
	c.deps.Metrics.TaskFinished(t, string(task.Status), time.Since(started))
	c.deps.Metrics.Records(t, "imported", task.ImportedRecords)
	c.deps.Metrics.Records(t, "error", task.ErrorRecords)
	c.deps.Metrics.Records(t, "skipped", task.SkippedRecords)
}

// recordUnreadable stores a single failed task for input that produced no date group
func (c *Coordinator) recordUnreadable(ctx context.Context, job *importJob, cause error) error {
	started := time.Now()
	rr := job.req

	task := &contracts.ImportTask{
		BatchID:      job.batchID,
		ImportType:   rr.spec.Type,
		FileName:     rr.FileName,
		UploadedBy:   rr.UploadedBy,
		Mode:         rr.mode,
		TotalRecords: job.summary.TotalRecords,
		ErrorRecords: job.summary.ErrorRecords,
		Breakdown: &contracts.DateBreakdown{
			Total:       job.summary.TotalRecords,
			Errors:      job.summary.ErrorRecords,
			ErrorSample: job.sink.samples,
		},
	}
	if err := c.deps.Tracker.Start(ctx, task); err != nil {
		return err
	}
	if err := c.fail(context.WithoutCancel(ctx), task, cause, started); err != nil {
		return err
	}

	job.summary.TaskIDs = append(job.summary.TaskIDs, task.ID)
	job.summary.Dates = append(job.summary.Dates, *task.Breakdown)
	return nil
}

func (c *Coordinator) learnMemberships(ctx context.Context, job *importJob, records []contracts.NormalizedRecord) {
	if c.deps.Learner == nil || !c.prof.Concepts.LearnFromWideImports {
		return
	}
	n, err := c.deps.Learner.Learn(ctx, records)
	if err != nil {
		c.log.WithError(err).Warn("Failed to learn concept memberships")
		job.summary.Warnings = append(job.summary.Warnings, "concept memberships not updated: "+err.Error())
		return
	}
	if n > 0 {
		c.log.WithField("added", n).Debug("Concept memberships learned")
	}
}

func (c *Coordinator) maintainAfterLoad(ctx context.Context, job *importJob) {
	if c.deps.Maintainer == nil || !c.prof.Maintenance.AnalyzeAfterImport || job.summary.ImportedRecords == 0 {
		return
	}
	if err := c.deps.Maintainer.Maintain(ctx, MaintainOptions{Analyze: true}); err != nil {
		c.log.WithError(err).Warn("Post-load analyze failed")
		job.summary.Warnings = append(job.summary.Warnings, "post-load analyze failed: "+err.Error())
	}
}

// finishSummary applies the success rule: something was imported, no line
// was rejected and every date group completed with fresh derived data
func (c *Coordinator) finishSummary(job *importJob, start time.Time) {
	s := job.summary
	s.DurationMs = time.Since(start).Milliseconds()

	s.Success = s.ImportedRecords > 0 && s.ErrorRecords == 0
	for _, d := range s.Dates {
		if d.Status != contracts.TaskCompleted || !d.DerivedOK {
			s.Success = false
		}
	}
}

// Recompute reruns ranking and new high detection for one stored date
func (c *Coordinator) Recompute(ctx context.Context, t contracts.ImportType, date time.Time) (*contracts.DeriveResult, error) {
	if _, err := contracts.LookupImportType(string(t)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	date = contracts.DateOnly(date)

	release, err := c.deps.Locks.TryLock(ctx, t, date)
	if err != nil {
		var conflict *contracts.WriteConflictError
		if errors.As(err, &conflict) {
			c.deps.Metrics.LockConflict(string(t))
		}
		return nil, err
	}
	defer release()

	res, err := c.deps.Deriver.Derive(ctx, t, date)
	if err != nil {
		c.deps.Metrics.DeriveFailed(string(t))
		return nil, err
	}

	c.log.WithFields(map[string]interface{}{
		"import_type": t,
		"date":        date.Format(contracts.DateLayout),
		"concepts":    res.Concepts,
		"new_highs":   res.NewHighs,
	}).Info("Derived data recomputed")
	return res, nil
}

// TaskStatus returns one task
func (c *Coordinator) TaskStatus(ctx context.Context, id int64) (*contracts.ImportTask, error) {
	return c.deps.Tracker.Get(ctx, id)
}

// BatchTasks returns every task of one submission
func (c *Coordinator) BatchTasks(ctx context.Context, batchID string) ([]*contracts.ImportTask, error) {
	if _, err := uuid.Parse(batchID); err != nil {
		return nil, fmt.Errorf("%w: batch id: %v", ErrInvalidRequest, err)
	}
	return c.deps.Tracker.ListBatch(ctx, batchID)
}

func dateField(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(contracts.DateLayout)
}
