package offlineagent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfig = `
origin: https://ramblings.example/
port: 9090
version: 8
shellAssets:
  - /
  - /offline
routes:
  addItem: /new-post
delays:
  item: 2s
storage:
  db: memory
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if config.Prefix != "ramblings" || config.Port != 8080 {
		t.Fatalf("Defaults are %+v", config)
	}
	if config.Delays.Initial != 5*time.Second || config.Delays.Item != 10*time.Second || config.Delays.LogoutWait != 100*time.Millisecond {
		t.Fatalf("Default delays are %+v", config.Delays)
	}
	if len(config.ShellAssets) != len(DefaultShellAssets) {
		t.Fatalf("Default shell assets are %v", config.ShellAssets)
	}
}

func TestLoadConfigFile(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 9090 || config.Version != 8 {
		t.Fatalf("Config is %+v", config)
	}
	if config.Routes.AddItem != "/new-post" || config.Routes.Login != "/login" {
		t.Fatalf("Routes are %+v", config.Routes)
	}
	if config.Delays.Item != 2*time.Second || config.Delays.Initial != 5*time.Second {
		t.Fatalf("Delays are %+v", config.Delays)
	}
	if len(config.ShellAssets) != 2 {
		t.Fatalf("Shell assets are %v", config.ShellAssets)
	}
	if config.Storage.DB != "memory" || config.Storage.Backup != "backup.db" {
		t.Fatalf("Storage is %+v", config.Storage)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("OFFLINE_AGENT_VERSION", "9")
	t.Setenv("OFFLINE_AGENT_ROUTES_LISTING", "/api/posts")
	t.Setenv("OFFLINE_AGENT_DELAYS_INITIAL", "1s")

	config, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	if config.Version != 9 || config.Routes.Listing != "/api/posts" || config.Delays.Initial != time.Second {
		t.Fatalf("Config is %+v", config)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Missing file did not fail")
	}
}

func TestAgentConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	agentConfig, err := config.AgentConfig()
	if err != nil {
		t.Fatal(err)
	}
	if agentConfig.OriginURL.Host != "ramblings.example" || agentConfig.OriginURL.Path != "" {
		t.Fatalf("Origin is %s", agentConfig.OriginURL.String())
	}
	if agentConfig.Routes.AddItem != "/new-post" || agentConfig.Delays.Item != 2*time.Second {
		t.Fatalf("Agent config is %+v", agentConfig)
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*FileConfig){
		"no origin":       func(c *FileConfig) { c.Origin = "" },
		"relative origin": func(c *FileConfig) { c.Origin = "ramblings.example" },
		"origin path":     func(c *FileConfig) { c.Origin = "https://ramblings.example/blog" },
		"no prefix":       func(c *FileConfig) { c.Prefix = "" },
		"bad port":        func(c *FileConfig) { c.Port = 0 },
		"detail":          func(c *FileConfig) { c.Routes.Detail = "/post" },
	}
	for name, modify := range tests {
		config := DefaultFileConfig()
		config.Origin = "https://ramblings.example"
		modify(&config)
		if _, err := config.Validate(); err == nil {
			t.Errorf("%s: no error", name)
		}
	}
}
