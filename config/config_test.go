package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if original, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, original) })
		}
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := &Config{
		APIBaseURL:  "http://localhost:3000",
		CLIToken:    "ALPHA2025",
		GitHubLogin: "octocat",
	}

	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "octocat", loaded.GitHubLogin)
	assert.NotNil(t, loaded.Repos)
	assert.Empty(t, loaded.Repos)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"apiBaseUrl"`)
	assert.Contains(t, string(raw), `"repos": []`)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "config.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"apiBaseUrl":"http://localhost:3000","cliToken":"","githubLogin":"octo"}`), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestConfigValidateRepos(t *testing.T) {
	cfg := &Config{
		APIBaseURL:  "https://devimpact.example.com",
		CLIToken:    "tok",
		GitHubLogin: "octo",
		Repos:       []string{"acme/api", "not a repo"},
	}
	assert.Error(t, cfg.Validate())

	cfg.Repos = []string{"acme/api", "acme/web.site"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadSettingsDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("DEVIMPACT_HOME", home)
	unsetEnv(t, EnvAPIBase, EnvRepos, "DEVIMPACT_REQUEST_TIMEOUT", "DEVIMPACT_RUN_TIMEOUT", "DEVIMPACT_HYDRATE_CONCURRENCY")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", s.APIBaseURL)
	assert.Equal(t, 60*time.Second, s.RequestTimeout)
	assert.Equal(t, 30*time.Minute, s.RunTimeout)
	assert.Equal(t, 10, s.HydrateConcurrency)
	assert.Equal(t, filepath.Join(home, "config.json"), s.ConfigPath())
	assert.Equal(t, filepath.Join(home, "journal.db"), s.JournalPath())
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("DEVIMPACT_HOME", t.TempDir())
	t.Setenv(EnvAPIBase, "https://api.devimpact.example.com")
	t.Setenv(EnvRepos, "acme/api,acme/web")
	t.Setenv("DEVIMPACT_HYDRATE_CONCURRENCY", "4")
	t.Setenv("DEVIMPACT_REQUEST_TIMEOUT", "5s")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "https://api.devimpact.example.com", s.APIBaseURL)
	assert.Equal(t, []string{"acme/api", "acme/web"}, s.Repos)
	assert.Equal(t, 4, s.HydrateConcurrency)
	assert.Equal(t, 5*time.Second, s.RequestTimeout)
}

func TestLoadSettingsRejectsBadConcurrency(t *testing.T) {
	t.Setenv("DEVIMPACT_HOME", t.TempDir())
	t.Setenv("DEVIMPACT_HYDRATE_CONCURRENCY", "0")

	_, err := LoadSettings()
	assert.Error(t, err)
}

func TestResolveRepositories(t *testing.T) {
	tests := []struct {
		name       string
		flags      []string
		saved      []string
		env        []string
		want       []string
		wantSource RepoSource
	}{
		{"flags win", []string{"a/flag"}, []string{"a/saved"}, []string{"a/env"}, []string{"a/flag"}, RepoSourceFlags},
		{"saved next", nil, []string{"a/saved"}, []string{"a/env"}, []string{"a/saved"}, RepoSourceSaved},
		{"env last", nil, []string{}, []string{" a/env ", "b/env"}, []string{"a/env", "b/env"}, RepoSourceEnv},
		{"duplicates dropped", []string{"a/x", "b/y", "a/x"}, nil, nil, []string{"a/x", "b/y"}, RepoSourceFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, source, err := ResolveRepositories(tt.flags, tt.saved, tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestResolveRepositoriesErrors(t *testing.T) {
	_, _, err := ResolveRepositories(nil, []string{}, []string{""})
	assert.ErrorIs(t, err, ErrNoRepositories)

	_, _, err = ResolveRepositories([]string{"just-a-name"}, nil, nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRepositories)
}
