package sync

import (
	"context"
	"fmt"

	"github.com/devimpact/devimpact-cli/internal/api"
	"github.com/devimpact/devimpact-cli/internal/models"
	"golang.org/x/sync/errgroup"
)

// AuthoredQuery finds PRs in repo authored by login and updated since the window start
func AuthoredQuery(repo, login, since string) string {
	return fmt.Sprintf("is:pr author:%s repo:%s updated:>=%s", login, repo, since)
}

// ReviewedQuery finds PRs in repo reviewed, but not authored, by login
func ReviewedQuery(repo, login, since string) string {
	return fmt.Sprintf("is:pr -author:%s reviewed-by:%s repo:%s updated:>=%s", login, login, repo, since)
}

// SearchAuthored returns the PRs login authored in repo, most recently updated first
func (s *Syncer) SearchAuthored(ctx context.Context, repo, login, since string) ([]models.PullRequestSummary, error) {
	return s.search(ctx, repo, AuthoredQuery(repo, login, since))
}

// SearchReviewed returns the PRs login reviewed in repo, most recently updated first
func (s *Syncer) SearchReviewed(ctx context.Context, repo, login, since string) ([]models.PullRequestSummary, error) {
	return s.search(ctx, repo, ReviewedQuery(repo, login, since))
}

func (s *Syncer) search(ctx context.Context, repo, query string) ([]models.PullRequestSummary, error) {
	items, err := s.client.SearchIssues(ctx, query)
	if err != nil {
		return nil, err
	}
	return api.ConvertSearchResults(items, repo)
}

// SearchBoth runs the authored and reviewed searches concurrently
func (s *Syncer) SearchBoth(ctx context.Context, repo, login, since string) (authored, reviewed []models.PullRequestSummary, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		authored, err = s.SearchAuthored(gctx, repo, login, since)
		if err != nil {
			return fmt.Errorf("failed to search authored PRs: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		reviewed, err = s.SearchReviewed(gctx, repo, login, since)
		if err != nil {
			return fmt.Errorf("failed to search reviewed PRs: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return authored, reviewed, nil
}
