package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
version: v1.0.0
provider:
  name: OpenAI
  api_key: sk-test
  model: gpt-4o-mini
store_path: /tmp/assisthub-test
agent_mode: true
`

func TestLoadValidConfig(t *testing.T) {
	t.Setenv(envAPIKey, "")
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.Name != "openai" {
		t.Fatalf("provider name must normalize: %q", cfg.Provider.Name)
	}
	if !cfg.AgentMode {
		t.Fatal("agent_mode lost")
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("default listen addr: %q", cfg.ListenAddr)
	}
	if cfg.SourcePath != path {
		t.Fatalf("source path: %q", cfg.SourcePath)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	t.Setenv(envAPIKey, "")
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "wrong schema major",
			yaml: strings.Replace(validYAML, "v1.0.0", "v2.0.0", 1),
			want: "unsupported schema",
		},
		{
			name: "invalid semver",
			yaml: strings.Replace(validYAML, "v1.0.0", "one", 1),
			want: "not a valid semver",
		},
		{
			name: "unknown provider",
			yaml: strings.Replace(validYAML, "OpenAI", "cohere", 1),
			want: "unknown provider",
		},
		{
			name: "missing model",
			yaml: strings.Replace(validYAML, "model: gpt-4o-mini", "", 1),
			want: "model is required",
		},
		{
			name: "missing api key",
			yaml: strings.Replace(validYAML, "api_key: sk-test", "", 1),
			want: "api_key is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingVersionDefaults(t *testing.T) {
	path := writeConfig(t, strings.Replace(validYAML, "version: v1.0.0\n", "", 1))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Version != "v1" {
		t.Fatalf("version default: %q", cfg.Version)
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv(envAPIKey, "sk-from-env")
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Fatalf("env override lost: %q", cfg.Provider.APIKey)
	}
}

func TestEnvSuppliesMissingAPIKey(t *testing.T) {
	t.Setenv(envAPIKey, "sk-from-env")
	path := writeConfig(t, strings.Replace(validYAML, "api_key: sk-test", "", 1))
	if _, err := Load(path); err != nil {
		t.Fatalf("env key must satisfy validation: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
