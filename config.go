package offlineagent

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding the config file.
const EnvPrefix = "OFFLINE_AGENT_"

// FileConfig is the agent configuration as read from a YAML file and the environment.
type FileConfig struct {
	Origin      string        `yaml:"origin" env:"ORIGIN"`
	Host        string        `yaml:"host" env:"HOST"`
	Port        int           `yaml:"port" env:"PORT"`
	Prefix      string        `yaml:"prefix" env:"PREFIX"`
	Version     int           `yaml:"version" env:"VERSION"`
	ShellAssets []string      `yaml:"shellAssets" env:"SHELL_ASSETS" envSeparator:","`
	Routes      RoutesConfig  `yaml:"routes" envPrefix:"ROUTES_"`
	Delays      DelaysConfig  `yaml:"delays" envPrefix:"DELAYS_"`
	Storage     StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
}

type RoutesConfig struct {
	Listing        string `yaml:"listing" env:"LISTING"`
	Detail         string `yaml:"detail" env:"DETAIL"`
	AddItem        string `yaml:"addItem" env:"ADD_ITEM"`
	AddItemAPI     string `yaml:"addItemApi" env:"ADD_ITEM_API"`
	Login          string `yaml:"login" env:"LOGIN"`
	Logout         string `yaml:"logout" env:"LOGOUT"`
	Home           string `yaml:"home" env:"HOME"`
	Offline        string `yaml:"offline" env:"OFFLINE"`
	NotFoundHeader string `yaml:"notFoundHeader" env:"NOT_FOUND_HEADER"`
	BackupKey      string `yaml:"backupKey" env:"BACKUP_KEY"`
}

type DelaysConfig struct {
	Initial    time.Duration `yaml:"initial" env:"INITIAL"`
	Item       time.Duration `yaml:"item" env:"ITEM"`
	LogoutWait time.Duration `yaml:"logoutWait" env:"LOGOUT_WAIT"`
}

type StorageConfig struct {
	// Cache DB file name, "memory" for an in-memory cache.
	DB string `yaml:"db" env:"DB"`
	// Backup store directory, "memory" for an in-memory store.
	Backup string `yaml:"backup" env:"BACKUP"`
}

// DefaultShellAssets are the pages, scripts, styles and images the site needs offline.
var DefaultShellAssets = []string{
	"/",
	"/about",
	"/contact",
	"/login",
	"/404",
	"/offline",
	"/js/home.js",
	"/js/blog.js",
	"/js/login.js",
	"/js/add-post.js",
	"/js/external/idb-keyval-iife.min.js",
	"/css/style.css",
	"images/logo.gif",
	"images/offline.png",
}

func DefaultRoutes() Routes {
	return Routes{
		Listing:        "/api/get-posts",
		Detail:         "/post/{id}",
		AddItem:        "/add-post",
		AddItemAPI:     "/api/add-post",
		Login:          "/login",
		Logout:         "/logout",
		Home:           "/",
		Offline:        "/offline",
		NotFoundHeader: "X-Not-Found",
		BackupKey:      "add-post-backup",
	}
}

func DefaultDelays() Delays {
	return Delays{
		Initial:    5 * time.Second,
		Item:       10 * time.Second,
		LogoutWait: 100 * time.Millisecond,
	}
}

// DefaultFileConfig returns the configuration used for everything not set in the file or environment.
func DefaultFileConfig() FileConfig {
	routes := DefaultRoutes()
	delays := DefaultDelays()
	return FileConfig{
		Port:        8080,
		Prefix:      "ramblings",
		Version:     1,
		ShellAssets: append([]string(nil), DefaultShellAssets...),
		Routes: RoutesConfig{
			Listing:        routes.Listing,
			Detail:         routes.Detail,
			AddItem:        routes.AddItem,
			AddItemAPI:     routes.AddItemAPI,
			Login:          routes.Login,
			Logout:         routes.Logout,
			Home:           routes.Home,
			Offline:        routes.Offline,
			NotFoundHeader: routes.NotFoundHeader,
			BackupKey:      routes.BackupKey,
		},
		Delays: DelaysConfig{
			Initial:    delays.Initial,
			Item:       delays.Item,
			LogoutWait: delays.LogoutWait,
		},
		Storage: StorageConfig{
			DB:     "cache.db",
			Backup: "backup.db",
		},
	}
}

// LoadConfig reads the config file, if any, on top of the defaults,
// and then applies OFFLINE_AGENT_* environment variables.
func LoadConfig(filename string) (FileConfig, error) {
	config := DefaultFileConfig()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// Validate checks the configuration and returns the parsed origin URL.
func (c FileConfig) Validate() (*url.URL, error) {
	if c.Origin == "" {
		return nil, errors.New("origin is required")
	}
	origin, err := url.Parse(strings.TrimRight(c.Origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin: %q is not an absolute URL", c.Origin)
	}
	if origin.Path != "" {
		return nil, fmt.Errorf("origin: paths are not supported (%q)", origin.Path)
	}
	if c.Port <= 0 {
		return nil, fmt.Errorf("port: %d is not valid", c.Port)
	}
	if c.Prefix == "" {
		return nil, errors.New("prefix is required")
	}
	if c.Version < 0 {
		return nil, fmt.Errorf("version: %d is negative", c.Version)
	}
	if !strings.Contains(c.Routes.Detail, "{id}") {
		return nil, fmt.Errorf("routes.detail: %q has no {id} placeholder", c.Routes.Detail)
	}
	return origin, nil
}

// AgentConfig validates the configuration and turns it into an agent Config.
// Storage, bus and host are left for the caller to set.
func (c FileConfig) AgentConfig() (Config, error) {
	origin, err := c.Validate()
	if err != nil {
		return Config{}, err
	}
	return Config{
		OriginURL:   *origin,
		OriginHost:  c.Host,
		Prefix:      c.Prefix,
		Version:     c.Version,
		ShellAssets: c.ShellAssets,
		Routes: Routes{
			Listing:        c.Routes.Listing,
			Detail:         c.Routes.Detail,
			AddItem:        c.Routes.AddItem,
			AddItemAPI:     c.Routes.AddItemAPI,
			Login:          c.Routes.Login,
			Logout:         c.Routes.Logout,
			Home:           c.Routes.Home,
			Offline:        c.Routes.Offline,
			NotFoundHeader: c.Routes.NotFoundHeader,
			BackupKey:      c.Routes.BackupKey,
		},
		Delays: Delays{
			Initial:    c.Delays.Initial,
			Item:       c.Delays.Item,
			LogoutWait: c.Delays.LogoutWait,
		},
	}, nil
}

// withDefaults fills in empty routes.
func (r Routes) withDefaults() Routes {
	d := DefaultRoutes()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&r.Listing, d.Listing)
	fill(&r.Detail, d.Detail)
	fill(&r.AddItem, d.AddItem)
	fill(&r.AddItemAPI, d.AddItemAPI)
	fill(&r.Login, d.Login)
	fill(&r.Logout, d.Logout)
	fill(&r.Home, d.Home)
	fill(&r.Offline, d.Offline)
	fill(&r.NotFoundHeader, d.NotFoundHeader)
	fill(&r.BackupKey, d.BackupKey)
	return r
}

// withDefaults replaces non-positive delays, so the background loops always pause between attempts.
func (d Delays) withDefaults() Delays {
	def := DefaultDelays()
	if d.Initial <= 0 {
		d.Initial = def.Initial
	}
	if d.Item <= 0 {
		d.Item = def.Item
	}
	if d.LogoutWait <= 0 {
		d.LogoutWait = def.LogoutWait
	}
	return d
}
