package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// EnvAPIBase overrides the backend base URL
	EnvAPIBase = "DEVIMPACT_API_BASE"
	// EnvRepos is a comma separated fallback list of repositories to sync
	EnvRepos = "DEVIMPACT_REPOS"
	// EnvGitHubToken switches GitHub access from the gh CLI to direct API calls
	EnvGitHubToken = "DEVIMPACT_GITHUB_TOKEN"

	configFileName  = "config.json"
	journalFileName = "journal.db"
)

var (
	// ErrNotFound is returned when no config file has been written yet
	ErrNotFound = errors.New("config not found, run `devimpact init` first")
	// ErrNoRepositories is returned when no repository source yields anything
	ErrNoRepositories = errors.New("no repositories configured")

	// RepositoryPattern matches "owner/name"
	RepositoryPattern = regexp.MustCompile(`^[\w.\-]+/[\w.\-]+$`)
)

// Settings are read from the environment on every invocation
type Settings struct {
	APIBaseURL   string   `env:"DEVIMPACT_API_BASE" env-default:"http://localhost:3000"`
	Repos        []string `env:"DEVIMPACT_REPOS" env-separator:","`
	GitHubToken  string   `env:"DEVIMPACT_GITHUB_TOKEN"`
	GitHubAPIURL string   `env:"DEVIMPACT_GITHUB_API_URL"`
	Home         string   `env:"DEVIMPACT_HOME"`

	RequestTimeout     time.Duration `env:"DEVIMPACT_REQUEST_TIMEOUT" env-default:"60s"`
	RunTimeout         time.Duration `env:"DEVIMPACT_RUN_TIMEOUT" env-default:"30m"`
	HydrateConcurrency int           `env:"DEVIMPACT_HYDRATE_CONCURRENCY" env-default:"10"`
	MaxRetries         int           `env:"DEVIMPACT_MAX_RETRIES" env-default:"4"`

	LogLevel     string `env:"DEVIMPACT_LOG_LEVEL" env-default:"info"`
	LogFormat    string `env:"DEVIMPACT_LOG_FORMAT" env-default:"text"`
	LogAddSource bool   `env:"DEVIMPACT_LOG_ADD_SOURCE" env-default:"false"`
}

// LoadSettings reads settings from the environment
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := cleanenv.ReadEnv(&s); err != nil {
		return nil, fmt.Errorf("failed to read environment variables: %w", err)
	}

	if s.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		s.Home = filepath.Join(home, ".devimpact")
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return &s, nil
}

// Validate checks settings ranges
func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.APIBaseURL, validation.Required, is.URL),
		validation.Field(&s.GitHubAPIURL, is.URL),
		validation.Field(&s.HydrateConcurrency, validation.Required, validation.Min(1), validation.Max(50)),
		validation.Field(&s.MaxRetries, validation.Min(0), validation.Max(10)),
	)
}

// ConfigPath is where the linked account record lives
func (s *Settings) ConfigPath() string {
	return filepath.Join(s.Home, configFileName)
}

// JournalPath is where the local sync journal lives
func (s *Settings) JournalPath() string {
	return filepath.Join(s.Home, journalFileName)
}

// Config is the record written by `init`
type Config struct {
	APIBaseURL  string   `json:"apiBaseUrl"`
	CLIToken    string   `json:"cliToken"`
	GitHubLogin string   `json:"githubLogin"`
	Repos       []string `json:"repos"`
}

// Validate checks the record is usable for a sync
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.APIBaseURL, validation.Required, is.URL),
		validation.Field(&c.CLIToken, validation.Required),
		validation.Field(&c.GitHubLogin, validation.Required),
	); err != nil {
		return err
	}

	for _, repo := range c.Repos {
		if err := validation.Validate(repo, validation.Match(RepositoryPattern)); err != nil {
			return fmt.Errorf("repos: %q: %w", repo, err)
		}
	}
	return nil
}

// LoadConfig loads the configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Repos == nil {
		config.Repos = []string{}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	if config.Repos == nil {
		config.Repos = []string{}
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// the file holds the CLI token
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// RepoSource says where the effective repository list came from
type RepoSource string

const (
	RepoSourceFlags RepoSource = "flags"
	RepoSourceSaved RepoSource = "config"
	RepoSourceEnv   RepoSource = "env"
)

// ResolveRepositories picks the first non-empty list among command line flags,
// the saved config and the environment, then validates and de-duplicates it
// keeping the first occurrence.
func ResolveRepositories(flags, saved, env []string) ([]string, RepoSource, error) {
	candidates := []struct {
		source RepoSource
		repos  []string
	}{
		{RepoSourceFlags, flags},
		{RepoSourceSaved, saved},
		{RepoSourceEnv, env},
	}

	for _, c := range candidates {
		repos := cleanRepositories(c.repos)
		if len(repos) == 0 {
			continue
		}
		for _, repo := range repos {
			if !RepositoryPattern.MatchString(repo) {
				return nil, c.source, fmt.Errorf("invalid repository %q from %s, expected owner/name", repo, c.source)
			}
		}
		return repos, c.source, nil
	}

	return nil, "", ErrNoRepositories
}

func cleanRepositories(repos []string) []string {
	seen := make(map[string]bool, len(repos))
	var out []string
	for _, repo := range repos {
		repo = strings.TrimSpace(repo)
		if repo == "" || seen[repo] {
			continue
		}
		seen[repo] = true
		out = append(out, repo)
	}
	return out
}
