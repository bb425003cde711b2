// Package config resolves server configuration from CLI flags, with an
// optional YAML file layered underneath them: flags always win over the
// file, and the file's values win over the built-in defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved server configuration.
type Config struct {
	Host           string
	Port           int
	Dir            string
	DBFilename     string
	ReplicaOf      string
	MaxConnections int
	IdleTimeout    time.Duration
}

// Default returns the hard-coded baseline configuration, before any
// flag or config file is applied.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           6379,
		Dir:            ".",
		DBFilename:     "dump.rdb",
		MaxConnections: 10000,
		IdleTimeout:    5 * time.Minute,
	}
}

// Parse builds a Config from args (ordinarily os.Args[1:]) against the
// four flags spec.md §6 names, plus an optional --config overlay.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	cfgPath := fs.String("config", "", "path to an optional YAML config file")
	dir := fs.String("dir", "", "directory containing the RDB snapshot file")
	dbfilename := fs.String("dbfilename", "", "name of the RDB snapshot file")
	port := fs.Int("port", 0, "TCP port to listen on")
	replicaof := fs.String("replicaof", "", `upstream leader as "<host> <port>"`)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	if *cfgPath != "" {
		if err := applyYAML(cfg, *cfgPath); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.Dir = *dir
		case "dbfilename":
			cfg.DBFilename = *dbfilename
		case "port":
			if *port > 0 && *port < 65536 {
				cfg.Port = *port
			}
		case "replicaof":
			cfg.ReplicaOf = *replicaof
		}
	})

	return cfg, nil
}

// Get returns the value CONFIG GET should report for a parameter name, and
// whether that name is recognized at all.
func (c *Config) Get(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "dir":
		return c.Dir, true
	case "dbfilename":
		return c.DBFilename, true
	case "port":
		return strconv.Itoa(c.Port), true
	case "replicaof":
		return c.ReplicaOf, c.ReplicaOf != ""
	default:
		return "", false
	}
}

// ReplicaOfHostPort parses ReplicaOf into its host and port, reporting ok
// false if it is unset or malformed.
func (c *Config) ReplicaOfHostPort() (host string, port int, ok bool) {
	if c.ReplicaOf == "" {
		return "", 0, false
	}
	parts := strings.Fields(c.ReplicaOf)
	if len(parts) != 2 {
		return "", 0, false
	}
	p, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], p, true
}

type yamlOverlay struct {
	Dir            *string `yaml:"dir"`
	DBFilename     *string `yaml:"dbfilename"`
	Port           *int    `yaml:"port"`
	ReplicaOf      *string `yaml:"replicaof"`
	MaxConnections *int    `yaml:"max_connections"`
	IdleTimeout    *string `yaml:"idle_timeout"`
}

// applyYAML layers a config file's values onto cfg, grounded on
// boomballa-df2redis's internal/config.Load pattern of decoding into an
// overlay struct of optional fields rather than mutating cfg in place.
func applyYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var o yamlOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if o.Dir != nil {
		cfg.Dir = *o.Dir
	}
	if o.DBFilename != nil {
		cfg.DBFilename = *o.DBFilename
	}
	if o.Port != nil && *o.Port > 0 && *o.Port < 65536 {
		cfg.Port = *o.Port
	}
	if o.ReplicaOf != nil {
		cfg.ReplicaOf = *o.ReplicaOf
	}
	if o.MaxConnections != nil {
		cfg.MaxConnections = *o.MaxConnections
	}
	if o.IdleTimeout != nil {
		if d, err := time.ParseDuration(*o.IdleTimeout); err == nil {
			cfg.IdleTimeout = d
		}
	}
	return nil
}
