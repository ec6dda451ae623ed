package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devimpact/devimpact-cli/internal/api"
	"github.com/devimpact/devimpact-cli/internal/logger"
	"github.com/devimpact/devimpact-cli/internal/models"
	"github.com/google/uuid"
)

// isoMillis matches the window format the backend hands out
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrNoRecommendedStart is returned when the backend status carries no window start
	ErrNoRecommendedStart = errors.New("backend did not provide a recommended sync start")
	// ErrInvalidWindow is returned when the window start is unparseable or in the future
	ErrInvalidWindow = errors.New("invalid sync window")
)

// Backend is the part of the DevImpact API a sync talks to
type Backend interface {
	Status(ctx context.Context) (*models.CliStatus, error)
	PushSync(ctx context.Context, payload *models.SyncPayload) error
}

// Journal records run bookkeeping locally. Journal failures never fail a sync.
type Journal interface {
	StartRun(runID string, startedAt time.Time) error
	RecordWindow(runID string, window models.SyncWindow) error
	RecordRepository(runID string, rec models.RepoSyncRecord) error
	FinishRun(runID string, finishedAt time.Time, runErr error) error
}

// Stage is the step a run is in
type Stage string

const (
	StageIdle           Stage = "idle"
	StageFetchingStatus Stage = "fetching_status"
	StageFetchingMeta   Stage = "fetching_metadata"
	StageSearching      Stage = "searching"
	StageHydrating      Stage = "hydrating"
	StagePushing        Stage = "pushing"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// RepoError is a failure while syncing one repository
type RepoError struct {
	Repository string
	Stage      Stage
	Err        error
}

func (e *RepoError) Error() string {
	return fmt.Sprintf("sync of %s failed while %s: %v", e.Repository, strings.ReplaceAll(string(e.Stage), "_", " "), e.Err)
}

func (e *RepoError) Unwrap() error {
	return e.Err
}

// Options select what a run syncs
type Options struct {
	// RunID correlates backend requests and the journal. Generated when empty.
	RunID        string
	Repositories []string
	GitHubLogin  string
}

// RepoReport summarizes what was pushed for one repository
type RepoReport struct {
	Repository string
	PullCount  int
	Batches    int
}

// Report describes a finished or failed run
type Report struct {
	RunID        string
	Stage        Stage
	Window       models.SyncWindow
	Repositories []RepoReport
}

// Syncer extracts PR activity from GitHub and pushes it to the backend
type Syncer struct {
	client  api.Client
	backend Backend
	journal Journal
	logger  *logger.Logger
	workers int
	now     func() time.Time
}

// New creates a new syncer. journal may be nil.
func New(client api.Client, backend Backend, journal Journal, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.Discard()
	}
	return &Syncer{
		client:  client,
		backend: backend,
		journal: journal,
		logger:  log.Component("sync"),
		workers: 10,
		now:     time.Now,
	}
}

// SetWorkers sets how many PRs are hydrated at once
func (s *Syncer) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > 50 {
		workers = 50
	}
	s.workers = workers
}

// Run negotiates the sync window with the backend, then syncs each repository
// in order. The first failure aborts the run and the remaining repositories
// are not touched.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		RunID: opts.RunID,
		Stage: StageIdle,
	}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	}

	s.journalDo("start run", func(j Journal) error {
		return j.StartRun(report.RunID, s.now())
	})

	err := s.run(ctx, opts, report)
	if err != nil {
		report.Stage = StageFailed
	} else {
		report.Stage = StageDone
	}

	s.journalDo("finish run", func(j Journal) error {
		return j.FinishRun(report.RunID, s.now(), err)
	})

	return report, err
}

func (s *Syncer) run(ctx context.Context, opts Options, report *Report) error {
	report.Stage = StageFetchingStatus
	status, err := s.backend.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch cli status: %w", err)
	}

	window, err := NewWindow(status.RecommendedStartISO, s.now())
	if err != nil {
		return err
	}
	report.Window = window
	s.journalDo("record window", func(j Journal) error {
		return j.RecordWindow(report.RunID, window)
	})

	s.logger.Info("Sync window negotiated",
		"run_id", report.RunID,
		"start", window.StartISO,
		"end", window.EndISO,
		"repositories", len(opts.Repositories),
	)

	for _, repo := range opts.Repositories {
		if err := ctx.Err(); err != nil {
			return err
		}

		rr, err := s.SyncRepository(ctx, repo, opts.GitHubLogin, window, func(stage Stage) {
			report.Stage = stage
		})
		if err != nil {
			return err
		}
		report.Repositories = append(report.Repositories, *rr)

		s.journalDo("record repository", func(j Journal) error {
			return j.RecordRepository(report.RunID, models.RepoSyncRecord{
				Repository:  rr.Repository,
				PullCount:   rr.PullCount,
				BatchCount:  rr.Batches,
				CompletedAt: s.now(),
			})
		})
	}

	return nil
}

// NewWindow builds the window [startISO, now]. startISO is passed through unchanged.
func NewWindow(startISO string, now time.Time) (models.SyncWindow, error) {
	if startISO == "" {
		return models.SyncWindow{}, ErrNoRecommendedStart
	}

	start, err := time.Parse(time.RFC3339, startISO)
	if err != nil {
		return models.SyncWindow{}, fmt.Errorf("%w: start %q: %v", ErrInvalidWindow, startISO, err)
	}
	if start.After(now) {
		return models.SyncWindow{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidWindow, startISO, now.UTC().Format(isoMillis))
	}

	return models.SyncWindow{
		StartISO: startISO,
		EndISO:   now.UTC().Format(isoMillis),
	}, nil
}

// SyncRepository fetches metadata, searches, hydrates and pushes one repository.
// onStage, when set, is told about each stage entered.
func (s *Syncer) SyncRepository(ctx context.Context, repo, login string, window models.SyncWindow, onStage func(Stage)) (*RepoReport, error) {
	stage := StageIdle
	enter := func(next Stage) {
		stage = next
		if onStage != nil {
			onStage(next)
		}
	}
	fail := func(err error) error {
		return &RepoError{Repository: repo, Stage: stage, Err: err}
	}

	owner, name, err := ParseRepositoryString(repo)
	if err != nil {
		return nil, fail(err)
	}
	log := s.logger.With("repository", repo)

	enter(StageFetchingMeta)
	meta, err := s.fetchRepository(ctx, owner, name)
	if err != nil {
		return nil, fail(err)
	}

	enter(StageSearching)
	authored, reviewed, err := s.SearchBoth(ctx, repo, login, window.StartISO)
	if err != nil {
		return nil, fail(err)
	}
	unique := Dedupe(authored, reviewed)
	log.Info("Found pull requests",
		"authored", len(authored),
		"reviewed", len(reviewed),
		"unique", len(unique),
	)

	report := &RepoReport{Repository: repo}
	if len(unique) == 0 {
		log.Info("No pull requests in window, nothing to push")
		return report, nil
	}

	enter(StageHydrating)
	hydrated, err := s.HydrateAll(ctx, owner, name, unique)
	if err != nil {
		return nil, fail(err)
	}

	enter(StagePushing)
	batches := Chunk(hydrated, MaxPullsPerBatch)
	for i, batch := range batches {
		payload := &models.SyncPayload{
			GitHubLogin: login,
			SyncWindow:  window,
			Repo:        *meta,
			Pulls:       batch,
			IsLastBatch: i == len(batches)-1,
		}
		if err := s.backend.PushSync(ctx, payload); err != nil {
			return nil, fail(fmt.Errorf("failed to push batch %d/%d: %w", i+1, len(batches), err))
		}
		report.Batches++
		log.Info("Pushed batch",
			"batch", i+1,
			"batches", len(batches),
			"pulls", len(batch),
			"last", payload.IsLastBatch,
		)
	}
	report.PullCount = len(hydrated)

	return report, nil
}

// fetchRepository returns the normalized metadata snapshot used for every batch of a repository
func (s *Syncer) fetchRepository(ctx context.Context, owner, name string) (*models.RepositoryMetadata, error) {
	raw, err := s.client.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository metadata, check the name and your access: %w", err)
	}
	return api.NormalizeRepository(raw, owner+"/"+name)
}

func (s *Syncer) journalDo(op string, fn func(Journal) error) {
	if s.journal == nil {
		return
	}
	if err := fn(s.journal); err != nil {
		s.logger.Warn("Journal write failed", "op", op, "error", err)
	}
}

// ParseRepositoryString parses a repository string in the format "owner/name"
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}
