package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/devimpact/devimpact-cli/config"
	"github.com/devimpact/devimpact-cli/internal/api"
	"github.com/devimpact/devimpact-cli/internal/backend"
	"github.com/devimpact/devimpact-cli/internal/db"
	"github.com/devimpact/devimpact-cli/internal/logger"
	"github.com/devimpact/devimpact-cli/internal/runner"
	"github.com/devimpact/devimpact-cli/internal/sync"
	"github.com/google/uuid"
)

var (
	errGHNotInstalled     = errors.New("GitHub CLI (gh) not found")
	errGHNotAuthenticated = errors.New("gh is not authenticated")
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := remediation(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

type app struct {
	settings *config.Settings
	logger   *logger.Logger
	stdout   io.Writer
	stderr   io.Writer
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printHelp(stdout)
		return nil
	}

	command, rest := args[0], args[1:]
	switch command {
	case "help", "-h", "--help":
		printHelp(stdout)
		return nil
	case "init", "sync-basic", "history":
	default:
		printHelp(stderr)
		return fmt.Errorf("unknown command: %s", command)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}

	log, err := logger.New(&logger.Config{
		Level:     settings.LogLevel,
		Format:    settings.LogFormat,
		AddSource: settings.LogAddSource,
	}, stderr)
	if err != nil {
		return err
	}

	a := &app{settings: settings, logger: log, stdout: stdout, stderr: stderr}

	switch command {
	case "init":
		return a.runInit(rest)
	case "sync-basic":
		return a.runSync(rest)
	default:
		return a.runHistory(rest)
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "DevImpact CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  devimpact init --cli-token CODE        Link this machine to your DevImpact account")
	fmt.Fprintln(w, "  devimpact sync-basic [--repo OWNER/NAME ...]")
	fmt.Fprintln(w, "                                         Sync recent pull request activity")
	fmt.Fprintln(w, "  devimpact history [--limit N]          Show recent sync runs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  devimpact init --cli-token ALPHA2025")
	fmt.Fprintln(w, "  devimpact sync-basic --repo myorg/service-api")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  %-26s DevImpact API base URL\n", config.EnvAPIBase)
	fmt.Fprintf(w, "  %-26s Comma separated repositories used when none are saved\n", config.EnvRepos)
	fmt.Fprintf(w, "  %-26s Call the GitHub API directly instead of through gh\n", config.EnvGitHubToken)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "GitHub calls made during a sync:")
	for _, e := range api.Endpoints {
		fmt.Fprintf(w, "  %-22s %s\n", e.ID, e.Description)
		fmt.Fprintf(w, "  %-22s %s\n", "", e.Example)
	}
}

func (a *app) runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	var token string
	fs.StringVar(&token, "cli-token", "", "CLI token issued by DevImpact")
	fs.StringVar(&token, "link", "", "alias for --cli-token")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	if token == "" {
		printHelp(a.stderr)
		return errors.New("--cli-token CODE is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(a.stdout, "Linking this machine with DevImpact...")

	_, identity, err := a.githubClients(ctx, true)
	if err != nil {
		return err
	}

	login, err := identity.ViewerLogin(ctx)
	if err != nil {
		return fmt.Errorf("failed to read GitHub user: %w", err)
	}
	fmt.Fprintf(a.stdout, "✓ Authenticated as GitHub user: %s\n", login)

	apiBase := a.settings.APIBaseURL
	client := backend.New(apiBase, "", a.settings.RequestTimeout)
	resp, err := client.Link(ctx, backend.LinkRequest{Token: token, GitHubLogin: login})
	if err != nil {
		return fmt.Errorf("failed to link with DevImpact backend: %w", err)
	}
	if !resp.OK {
		if resp.Message != "" {
			return fmt.Errorf("backend refused the link: %s", resp.Message)
		}
		return errors.New("backend refused the link")
	}

	fmt.Fprintln(a.stdout, "✓ Linked to DevImpact successfully.")
	if resp.TenantID != "" {
		fmt.Fprintf(a.stdout, "  Tenant: %s\n", resp.TenantID)
	}

	cfg := &config.Config{
		APIBaseURL:  apiBase,
		CLIToken:    token,
		GitHubLogin: login,
		Repos:       []string{},
	}
	if err := config.SaveConfig(cfg, a.settings.ConfigPath()); err != nil {
		return err
	}

	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, "Next step: run `devimpact sync-basic --repo OWNER/NAME` to sync recent GitHub activity.")
	return nil
}

// parseFlags reports done when the user only asked for flag help
func parseFlags(fs *flag.FlagSet, args []string) (bool, error) {
	err := fs.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		return true, nil
	}
	return err != nil, err
}

type repoList []string

func (r *repoList) String() string {
	return strings.Join(*r, ",")
}

func (r *repoList) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func (a *app) runSync(args []string) error {
	fs := flag.NewFlagSet("sync-basic", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	var flagRepos repoList
	fs.Var(&flagRepos, "repo", "repository to sync as owner/name, repeatable")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	cfg, err := config.LoadConfig(a.settings.ConfigPath())
	if err != nil {
		return err
	}

	repos, source, err := config.ResolveRepositories(flagRepos, cfg.Repos, a.settings.Repos)
	if err != nil {
		return err
	}
	if len(cfg.Repos) == 0 && source == config.RepoSourceFlags {
		cfg.Repos = repos
		if err := config.SaveConfig(cfg, a.settings.ConfigPath()); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Saved %d repositories, later syncs can omit --repo\n", len(repos))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, a.settings.RunTimeout)
	defer cancel()

	client, _, err := a.githubClients(ctx, false)
	if err != nil {
		return err
	}

	// an explicit env override wins over the base URL saved at init
	apiBase := cfg.APIBaseURL
	if os.Getenv(config.EnvAPIBase) != "" {
		apiBase = a.settings.APIBaseURL
	}

	runID := uuid.NewString()
	be := backend.New(apiBase, cfg.CLIToken, a.settings.RequestTimeout).WithRunID(runID)

	var journal sync.Journal
	database, err := a.openJournal()
	if err != nil {
		a.logger.Warn("Sync journal unavailable, continuing without it", "error", err)
	} else {
		defer database.Close()
		journal = database
	}

	syncer := sync.New(client, be, journal, a.logger)
	syncer.SetWorkers(a.settings.HydrateConcurrency)

	fmt.Fprintf(a.stdout, "Syncing %d repositories for %s (from %s)\n", len(repos), cfg.GitHubLogin, source)
	startTime := time.Now()

	report, err := syncer.Run(ctx, sync.Options{
		RunID:        runID,
		Repositories: repos,
		GitHubLogin:  cfg.GitHubLogin,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Window: %s to %s\n", report.Window.StartISO, report.Window.EndISO)
	for _, r := range report.Repositories {
		if r.PullCount == 0 {
			fmt.Fprintf(a.stdout, "  %s: no pull requests in window\n", r.Repository)
			continue
		}
		fmt.Fprintf(a.stdout, "  %s: %d pull requests in %d batches\n", r.Repository, r.PullCount, r.Batches)
	}
	fmt.Fprintf(a.stdout, "Sync completed in %v\n", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func (a *app) runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	limit := fs.Int("limit", 10, "number of runs to show")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if *limit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", *limit)
	}

	database, err := a.openJournal()
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.RecentRuns(*limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "No sync runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tWINDOW START\tREPOS\tPULLS\tERROR")
	for _, r := range runs {
		pulls := 0
		for _, repo := range r.Repos {
			pulls += repo.PullCount
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status,
			r.WindowStart,
			len(r.Repos),
			pulls,
			r.Error,
		)
	}
	return w.Flush()
}

// githubClients picks the GitHub transport. A token in the environment selects
// direct API access, otherwise calls go through the gh CLI. verify checks that
// gh is installed and logged in first.
func (a *app) githubClients(ctx context.Context, verify bool) (api.Client, api.Identity, error) {
	retryCfg := api.DefaultRetryConfig()
	retryCfg.MaxRetries = uint64(a.settings.MaxRetries)
	retryCfg.AttemptTimeout = a.settings.RequestTimeout
	retrier := api.NewRetrier(retryCfg, a.logger)

	if token := a.settings.GitHubToken; token != "" {
		rest := api.NewRESTClient(token, retrier)
		graphql := api.NewGraphQLClient(token, retrier)
		if raw := a.settings.GitHubAPIURL; raw != "" {
			if err := rest.SetBaseURL(raw); err != nil {
				return nil, nil, err
			}
			graphql = api.NewEnterpriseGraphQLClient(graphQLEndpoint(raw), token, retrier)
		}
		a.logger.Debug("Using GitHub API token", "api_url", a.settings.GitHubAPIURL)
		return rest, graphql, nil
	}

	gh := api.NewGHClient(runner.New(a.settings.RequestTimeout), retrier)
	if verify {
		version, err := gh.CheckInstalled(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errGHNotInstalled, err)
		}
		fmt.Fprintf(a.stdout, "✓ GitHub CLI detected: %s\n", version)

		if err := gh.CheckAuth(ctx); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errGHNotAuthenticated, err)
		}
		fmt.Fprintln(a.stdout, "✓ gh is authenticated")
	}
	return gh, gh, nil
}

// graphQLEndpoint derives the GraphQL URL from a REST base such as
// https://ghe.example.com/api/v3
func graphQLEndpoint(restBase string) string {
	base := strings.TrimSuffix(strings.TrimRight(restBase, "/"), "/v3")
	return base + "/graphql"
}

func (a *app) openJournal() (*db.DB, error) {
	if err := os.MkdirAll(a.settings.Home, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", a.settings.Home, err)
	}

	database, err := db.New(a.settings.JournalPath())
	if err != nil {
		return nil, err
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// remediation returns a next step for errors the user can fix
func remediation(err error) string {
	var repoErr *sync.RepoError

	switch {
	case errors.Is(err, config.ErrNotFound):
		return "Run `devimpact init --cli-token CODE` to set up the CLI."
	case errors.Is(err, config.ErrNoRepositories):
		return "Use --repo owner/repo to specify at least one repository.\n" +
			"Example: devimpact sync-basic --repo myorg/service-api\n" +
			"Once you've run that, you can omit --repo next time to use the saved list."
	case errors.Is(err, backend.ErrUnauthorized):
		return "Your CLI token was rejected. Re-run `devimpact init --cli-token CODE` with a fresh token."
	case errors.Is(err, errGHNotInstalled):
		return "Install the GitHub CLI first: https://cli.github.com/"
	case errors.Is(err, errGHNotAuthenticated):
		return "Run `gh auth login` first, then re-run `devimpact init`."
	case errors.Is(err, sync.ErrNoRecommendedStart):
		return "DevImpact has no sync window for this account yet. Finish onboarding in the web app and retry."
	case errors.Is(err, context.DeadlineExceeded):
		return "The sync ran out of time. Raise DEVIMPACT_RUN_TIMEOUT or sync fewer repositories at once."
	case errors.As(err, &repoErr) && repoErr.Stage == sync.StageFetchingMeta:
		return "Check the repository name and that your GitHub account can access it."
	}
	return ""
}
