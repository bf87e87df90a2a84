package worker

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/volaticloud/runbox/internal/aianalyzer"
	"github.com/volaticloud/runbox/internal/artifacts"
	"github.com/volaticloud/runbox/internal/classifier"
	"github.com/volaticloud/runbox/internal/containerengine"
	"github.com/volaticloud/runbox/internal/execution"
	"github.com/volaticloud/runbox/internal/injector"
)

// ContainerEngine is the subset of internal/containerengine.Engine the
// Worker depends on.
type ContainerEngine interface {
	PullImage(ctx context.Context, imageRef string, auth *containerengine.RegistryAuth) error
	CreateJobContainer(ctx context.Context, spec containerengine.JobContainerSpec) (string, error)
	StartAndStream(ctx context.Context, containerID string, onChunk func([]byte)) error
	Wait(ctx context.Context, containerID string) (int, error)
	CopyArtifact(ctx context.Context, containerID, containerPath, hostDestDir string) error
	RemoveContainer(ctx context.Context, containerID string) error
}

// ArtifactStore is the subset of internal/artifacts.Store the Worker needs
// to resolve where a job's report aliases land on disk.
type ArtifactStore interface {
	AliasDir(organizationID, taskID, alias string) string
	ReportsBaseURL(organizationID, taskID string) string
}

// MetricsSampler is the subset of internal/metricscache.Cache the Worker
// needs to record a finished run's wall-clock duration.
type MetricsSampler interface {
	Sample(ctx context.Context, organizationID, image string, duration time.Duration) error
}

// ArtifactMirror is the subset of internal/artifacts.S3Backend the Worker
// uses to additionally push a copied alias directory to S3-compatible
// object storage. Optional: a nil mirror means artifacts only ever land on
// the local filesystem Store.
type ArtifactMirror interface {
	UploadDir(ctx context.Context, organizationID, taskID, alias, localDir string) error
}

// Config controls per-job behavior.
type Config struct {
	// JobTimeout bounds steps 4-10 (image pull through artifact copy) of a
	// single job; it does not bound fetching, the duration sample or the final
	// report (spec §4.2,
	// resolved Open Question: per-job soft timeout defaults to one hour).
	JobTimeout time.Duration

	// FetchBatch is how many job messages to pull per Fetch call.
	FetchBatch int

	// FetchMaxWait bounds how long a Fetch call blocks for at least one job.
	FetchMaxWait time.Duration
}

// DefaultConfig mirrors the container engine's own default job ceiling.
func DefaultConfig() Config {
	return Config{
		JobTimeout:   containerengine.DefaultJobTimeout,
		FetchBatch:   1,
		FetchMaxWait: 5 * time.Second,
	}
}

// Processor runs one job end to end: container lifecycle, classification,
// optional AI analysis, artifact copy, metrics sampling and status
// reporting (spec §4.2 steps 2-13; step 1, payload validation, already
// happened in internal/queue.Consumer.Fetch).
type Processor struct {
	engine    ContainerEngine
	artifacts ArtifactStore
	mirror    ArtifactMirror
	metrics   MetricsSampler
	analyzer  aianalyzer.Analyzer
	reporter  Reporter
	logger    *zap.Logger
	cfg       Config
}

// NewProcessor builds a Processor. metrics and artifacts may be nil, in
// which case sampling and artifact copy are skipped for every job. Set
// mirror with WithArtifactMirror to also push copied aliases to S3.
func NewProcessor(engine ContainerEngine, artifactStore ArtifactStore, metrics MetricsSampler, analyzer aianalyzer.Analyzer, reporter Reporter, logger *zap.Logger, cfg Config) *Processor {
	if analyzer == nil {
		analyzer = aianalyzer.NoopAnalyzer{}
	}
	return &Processor{
		engine:    engine,
		artifacts: artifactStore,
		metrics:   metrics,
		analyzer:  analyzer,
		reporter:  reporter,
		logger:    logger,
		cfg:       cfg,
	}
}

// WithArtifactMirror attaches an optional S3-compatible mirror; every
// successful local artifact copy is additionally uploaded through it.
func (p *Processor) WithArtifactMirror(mirror ArtifactMirror) *Processor {
	p.mirror = mirror
	return p
}

// Process runs job to completion, reporting RUNNING immediately and a
// terminal status at the end. It never returns an error for job-level
// failures (those are reported as FAILED/ERROR via the Reporter); it only
// returns an error when the Reporter itself is unreachable, since that
// leaves the Producer's durable state stale and the caller must decide
// whether to Nak for redelivery.
func (p *Processor) Process(ctx context.Context, job execution.JobMessage) error {
	if err := p.reporter.ReportUpdate(ctx, StatusUpdate{
		TaskID:         job.TaskID,
		OrganizationID: job.OrganizationID,
		Status:         execution.StatusRunning,
	}); err != nil {
		return err
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	status, output, analysis, reportsBaseURL, runErr := p.run(jobCtx, job)
	duration := time.Since(start)

	if p.metrics != nil {
		if err := p.metrics.Sample(ctx, job.OrganizationID, job.Image, duration); err != nil && p.logger != nil {
			p.logger.Warn("failed to sample job duration", zap.Error(err), zap.String("taskId", job.TaskID))
		}
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	endTime := time.Now().UTC()

	return p.reporter.ReportUpdate(ctx, StatusUpdate{
		TaskID:         job.TaskID,
		OrganizationID: job.OrganizationID,
		Status:         status,
		Output:         output,
		Error:          errMsg,
		Analysis:       analysis,
		ReportsBaseURL: reportsBaseURL,
		EndTime:        &endTime,
	})
}

// run executes steps 3-12: env injection, container creation, streaming,
// waiting, classification, analysis and artifact copy. It always returns a
// terminal Status, even when the container itself never ran.
func (p *Processor) run(ctx context.Context, job execution.JobMessage) (status execution.Status, output, analysis, reportsBaseURL string, runErr error) {
	env := injector.Build(job.TaskID, job.Config, nil)

	if err := p.engine.PullImage(ctx, job.Image, nil); err != nil && p.logger != nil {
		// Best-effort: an image already present locally lets the job run
		// anyway; CreateJobContainer surfaces a genuinely missing image.
		p.logger.Warn("image pull failed, continuing with local image if present", zap.Error(err), zap.String("image", job.Image))
	}

	containerID, err := p.engine.CreateJobContainer(ctx, containerengine.JobContainerSpec{
		TaskID:         job.TaskID,
		OrganizationID: job.OrganizationID,
		Image:          job.Image,
		FolderArg:      job.Folder,
		Env:            env,
	})
	if err != nil {
		return execution.StatusError, "", "", "", err
	}
	defer p.cleanupContainer(containerID, job)

	var logBuf strings.Builder
	logCh := make(chan string, 256)
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		for chunk := range logCh {
			if err := p.reporter.ReportLog(ctx, job.OrganizationID, job.TaskID, chunk); err != nil && p.logger != nil {
				p.logger.Warn("failed to stream log chunk", zap.Error(err), zap.String("taskId", job.TaskID))
			}
		}
	}()
	onChunk := func(chunk []byte) {
		logBuf.Write(chunk)
		select {
		case logCh <- string(chunk):
		default: // queue full: the live frame is dropped, the buffer keeps it
		}
	}

	streamErr := p.engine.StartAndStream(ctx, containerID, onChunk)
	close(logCh)
	<-logDone
	if streamErr != nil {
		return execution.StatusError, logBuf.String(), "", "", streamErr
	}

	exitCode, err := p.engine.Wait(ctx, containerID)
	if err != nil {
		return execution.StatusError, logBuf.String(), "", "", err
	}

	output = logBuf.String()
	status = classifier.Classify(exitCode, output)

	if status == execution.StatusFailed || status == execution.StatusUnstable {
		if len(output) >= aianalyzer.MinLogCharsForAnalysis {
			if err := p.reporter.ReportUpdate(ctx, StatusUpdate{
				TaskID:         job.TaskID,
				OrganizationID: job.OrganizationID,
				Status:         execution.StatusAnalyzing,
				Output:         output,
			}); err != nil && p.logger != nil {
				p.logger.Warn("failed to report analyzing status", zap.Error(err), zap.String("taskId", job.TaskID))
			}

			result, aiErr := p.analyzer.Analyze(ctx, job.Image, status, output)
			if aiErr != nil {
				analysis = aianalyzer.FallbackAnalysis(aiErr)
			} else {
				analysis = result
			}
		}
	}

	if p.artifacts != nil {
		p.copyArtifacts(ctx, containerID, job)
		reportsBaseURL = p.artifacts.ReportsBaseURL(job.OrganizationID, job.TaskID)
	}

	return status, output, analysis, reportsBaseURL, nil
}

// copyArtifacts copies every fixed report alias out of the container.
// Failures are logged and aggregated for visibility but never fail the job
// (spec §7: ARTIFACT_COPY is never fatal).
func (p *Processor) copyArtifacts(ctx context.Context, containerID string, job execution.JobMessage) {
	var errs *multierror.Error
	for containerPath, alias := range artifacts.Aliases {
		dest := p.artifacts.AliasDir(job.OrganizationID, job.TaskID, alias)
		if err := p.engine.CopyArtifact(ctx, containerID, containerPath, dest); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if p.mirror != nil {
			if err := p.mirror.UploadDir(ctx, job.OrganizationID, job.TaskID, alias, dest); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	if errs != nil && errs.Len() > 0 && p.logger != nil {
		p.logger.Warn("one or more artifact copies failed", zap.Error(errs), zap.String("taskId", job.TaskID))
	}
}

func (p *Processor) cleanupContainer(containerID string, job execution.JobMessage) {
	removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.engine.RemoveContainer(removeCtx, containerID); err != nil && p.logger != nil {
		p.logger.Warn("failed to remove job container", zap.Error(err), zap.String("taskId", job.TaskID), zap.String("containerId", containerID))
	}
}
