package models

import (
	"time"

	"github.com/google/go-github/v57/github"
)

// Visibility is the repository visibility reported by GitHub
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// RepositoryMetadata is a normalized snapshot of a GitHub repository
type RepositoryMetadata struct {
	ID         int64  `json:"id"`
	OwnerLogin string `json:"ownerLogin"`
	Name       string `json:"name"`
	FullName   string `json:"fullName"`
	HTMLURL    string `json:"htmlUrl"`

	Private    bool       `json:"private"`
	Fork       bool       `json:"fork"`
	Archived   bool       `json:"archived"`
	Visibility Visibility `json:"visibility"`

	DefaultBranch   string  `json:"defaultBranch"`
	PrimaryLanguage *string `json:"primaryLanguage"`

	CreatedAt *time.Time `json:"createdAt"`
	PushedAt  *time.Time `json:"pushedAt"`
}

// PullRequestSummary is a pull request as returned by the search endpoint.
// The embedded issue keeps GitHub's wire field names when sent to the backend.
type PullRequestSummary struct {
	*github.Issue
	RepoFullName string `json:"repoFullName"`
}

// HydratedPullRequest is a pull request summary plus its related collections.
// None of the collections are ever nil.
type HydratedPullRequest struct {
	Core           PullRequestSummary           `json:"core"`
	Repo           string                       `json:"repo"`
	Commits        []*github.RepositoryCommit   `json:"commits"`
	Files          []*github.CommitFile         `json:"files"`
	Reviews        []*github.PullRequestReview  `json:"reviews"`
	ReviewComments []*github.PullRequestComment `json:"reviewComments"`
	TimelineEvents []*github.IssueEvent         `json:"timelineEvents"`
}

// SyncWindow is the half-open interval [StartISO, EndISO) of in-scope activity
type SyncWindow struct {
	StartISO string `json:"startISO"`
	EndISO   string `json:"endISO"`
}

// OnboardingState is the backend's view of how far the account has progressed
type OnboardingState string

const (
	OnboardingAccountCreated OnboardingState = "account_created"
	OnboardingCLIPending     OnboardingState = "cli_pending"
	OnboardingCLILinked      OnboardingState = "cli_linked"
	OnboardingSyncing        OnboardingState = "syncing"
	OnboardingSynced         OnboardingState = "synced"
)

// CliStatus is the backend-reported onboarding and sync state
type CliStatus struct {
	OnboardingState     OnboardingState `json:"onboardingState"`
	HasCliToken         bool            `json:"hasCliToken"`
	CliLinkedAt         *string         `json:"cliLinkedAt"`
	LastSyncAt          *string         `json:"lastSyncAt"`
	HasActivity         bool            `json:"hasActivity"`
	RecommendedStartISO string          `json:"recommendedStartISO"`
}

// SyncPayload is one batch pushed to the backend
type SyncPayload struct {
	GitHubLogin string                `json:"githubLogin"`
	SyncWindow  SyncWindow            `json:"syncWindow"`
	Repo        RepositoryMetadata    `json:"repo"`
	Pulls       []HydratedPullRequest `json:"pulls"`
	IsLastBatch bool                  `json:"isLastBatch"`
}

// RunRecord is a locally journaled sync run
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	WindowStart string
	WindowEnd   string
	Status      string
	Error       string
	Repos       []RepoSyncRecord
}

// RepoSyncRecord tracks what was pushed for one repository in a run
type RepoSyncRecord struct {
	Repository  string
	PullCount   int
	BatchCount  int
	CompletedAt time.Time
}
