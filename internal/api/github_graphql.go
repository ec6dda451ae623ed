package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// GraphQLClient represents a client for the GitHub GraphQL API
type GraphQLClient struct {
	client  *githubv4.Client
	retrier *Retrier
}

// NewGraphQLClient creates a new GraphQL client
func NewGraphQLClient(token string, retrier *Retrier) *GraphQLClient {
	return &GraphQLClient{
		client:  githubv4.NewClient(tokenHTTPClient(token)),
		retrier: retrier,
	}
}

// NewEnterpriseGraphQLClient creates a GraphQL client for a non-default endpoint
func NewEnterpriseGraphQLClient(endpoint, token string, retrier *Retrier) *GraphQLClient {
	return &GraphQLClient{
		client:  githubv4.NewEnterpriseClient(endpoint, tokenHTTPClient(token)),
		retrier: retrier,
	}
}

// ViewerLogin returns the login of the token's owner
func (c *GraphQLClient) ViewerLogin(ctx context.Context) (string, error) {
	var query struct {
		Viewer struct {
			Login githubv4.String
		}
	}

	err := c.retrier.Do(ctx, "graphql viewer", func(ctx context.Context) error {
		return c.client.Query(ctx, &query, nil)
	})
	if err != nil {
		return "", fmt.Errorf("failed to query viewer: %w", err)
	}

	login := string(query.Viewer.Login)
	if login == "" {
		return "", errors.New("GitHub token is not associated with a user")
	}
	return login, nil
}

func tokenHTTPClient(token string) *http.Client {
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return oauth2.NewClient(context.Background(), src)
}
