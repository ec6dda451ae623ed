package sync

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/devimpact/devimpact-cli/internal/models"
	"golang.org/x/sync/errgroup"
)

// Hydrate fetches commits, files, reviews, review comments and timeline events
// for one PR concurrently. Any failure fails the whole PR.
func (s *Syncer) Hydrate(ctx context.Context, owner, name string, pr models.PullRequestSummary) (*models.HydratedPullRequest, error) {
	number := pr.GetNumber()
	hydrated := &models.HydratedPullRequest{
		Core: pr,
		Repo: owner + "/" + name,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		commits, err := s.client.ListPullCommits(gctx, owner, name, number)
		if err != nil {
			return fmt.Errorf("commits: %w", err)
		}
		hydrated.Commits = commits
		return nil
	})

	g.Go(func() error {
		files, err := s.client.ListPullFiles(gctx, owner, name, number)
		if err != nil {
			return fmt.Errorf("files: %w", err)
		}
		hydrated.Files = files
		return nil
	})

	g.Go(func() error {
		reviews, err := s.client.ListPullReviews(gctx, owner, name, number)
		if err != nil {
			return fmt.Errorf("reviews: %w", err)
		}
		hydrated.Reviews = reviews
		return nil
	})

	g.Go(func() error {
		comments, err := s.client.ListPullReviewComments(gctx, owner, name, number)
		if err != nil {
			return fmt.Errorf("review comments: %w", err)
		}
		hydrated.ReviewComments = comments
		return nil
	})

	g.Go(func() error {
		events, err := s.client.ListIssueEvents(gctx, owner, name, number)
		if err != nil {
			return fmt.Errorf("timeline events: %w", err)
		}
		hydrated.TimelineEvents = events
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to hydrate PR #%d: %w", number, err)
	}

	// the backend expects arrays, never null
	hydrated.Commits = nonNil(hydrated.Commits)
	hydrated.Files = nonNil(hydrated.Files)
	hydrated.Reviews = nonNil(hydrated.Reviews)
	hydrated.ReviewComments = nonNil(hydrated.ReviewComments)
	hydrated.TimelineEvents = nonNil(hydrated.TimelineEvents)

	return hydrated, nil
}

// HydrateAll hydrates prs with at most s.workers PRs in flight. The result
// keeps the input order. The first failure cancels the remaining work.
func (s *Syncer) HydrateAll(ctx context.Context, owner, name string, prs []models.PullRequestSummary) ([]models.HydratedPullRequest, error) {
	results := make([]models.HydratedPullRequest, len(prs))
	total := len(prs)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, pr := range prs {
		g.Go(func() error {
			hydrated, err := s.Hydrate(gctx, owner, name, pr)
			if err != nil {
				return err
			}
			results[i] = *hydrated

			current := done.Add(1)
			if current == 1 || current == int64(total) || current%progressEvery == 0 {
				s.logger.Info("Hydration progress",
					"repository", owner+"/"+name,
					"done", current,
					"total", total,
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

const progressEvery = 10

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
