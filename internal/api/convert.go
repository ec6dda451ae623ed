package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/devimpact/devimpact-cli/internal/models"
	"github.com/google/go-github/v57/github"
)

// NormalizeRepository converts a GitHub repository payload to our model.
// fullName is the "owner/name" the caller asked for and fills gaps in the payload.
func NormalizeRepository(repo *github.Repository, fullName string) (*models.RepositoryMetadata, error) {
	if repo == nil || repo.GetID() == 0 {
		return nil, fmt.Errorf("%w: repository %s has no id", ErrMalformedPayload, fullName)
	}

	owner, name, _ := strings.Cut(fullName, "/")
	if login := repo.GetOwner().GetLogin(); login != "" {
		owner = login
	}
	if repo.GetName() != "" {
		name = repo.GetName()
	}
	if repo.GetFullName() != "" {
		fullName = repo.GetFullName()
	}

	visibility := models.Visibility(repo.GetVisibility())
	switch visibility {
	case models.VisibilityPublic, models.VisibilityPrivate, models.VisibilityInternal:
	default:
		visibility = models.VisibilityPublic
		if repo.GetPrivate() {
			visibility = models.VisibilityPrivate
		}
	}

	defaultBranch := repo.GetDefaultBranch()
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	return &models.RepositoryMetadata{
		ID:              repo.GetID(),
		OwnerLogin:      owner,
		Name:            name,
		FullName:        fullName,
		HTMLURL:         repo.GetHTMLURL(),
		Private:         repo.GetPrivate(),
		Fork:            repo.GetFork(),
		Archived:        repo.GetArchived(),
		Visibility:      visibility,
		DefaultBranch:   defaultBranch,
		PrimaryLanguage: repo.Language,
		CreatedAt:       convertTimestamp(repo.CreatedAt),
		PushedAt:        convertTimestamp(repo.PushedAt),
	}, nil
}

// ConvertSearchResults validates search items and wraps them as pull request summaries
func ConvertSearchResults(items []*github.Issue, repoFullName string) ([]models.PullRequestSummary, error) {
	summaries := make([]models.PullRequestSummary, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("%w: search item %d is null", ErrMalformedPayload, i)
		}
		if item.GetNumber() <= 0 {
			return nil, fmt.Errorf("%w: search item %d has no number", ErrMalformedPayload, i)
		}
		if !item.IsPullRequest() {
			return nil, fmt.Errorf("%w: search item #%d is not a pull request", ErrMalformedPayload, item.GetNumber())
		}
		summaries = append(summaries, models.PullRequestSummary{
			Issue:        item,
			RepoFullName: repoFullName,
		})
	}
	return summaries, nil
}

func convertTimestamp(ts *github.Timestamp) *time.Time {
	if ts == nil || ts.Time.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}
