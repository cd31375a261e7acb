// Package config loads .anchorscan.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/plugins"
)

// FileNames are the config file names searched for, in order.
var FileNames = []string{".anchorscan.yaml", ".anchorscan.yml"}

// DateLayout is the format of IgnoreRule.Expires.
const DateLayout = "2006-01-02"

type IgnoreRule struct {
	Rule    string `yaml:"rule,omitempty"`
	Path    string `yaml:"path,omitempty"`
	Reason  string `yaml:"reason,omitempty"`
	Expires string `yaml:"expires,omitempty"`
}

// Active reports whether the rule still applies at now.
func (r IgnoreRule) Active(now time.Time) bool {
	if r.Expires == "" {
		return true
	}
	t, err := time.Parse(DateLayout, r.Expires)
	if err != nil {
		return true
	}
	return now.Before(t.AddDate(0, 0, 1))
}

type PocConfig struct {
	OutDir string `yaml:"outDir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	SeverityThreshold string       `yaml:"severityThreshold"`
	Only              []string     `yaml:"only,omitempty"`
	Exclude           []string     `yaml:"exclude,omitempty"`
	Ignore            []IgnoreRule `yaml:"ignore,omitempty"`
	// Workers bounds parallel parsing; zero uses every CPU.
	Workers        int       `yaml:"workers"`
	AuthorityNames []string  `yaml:"authorityNames,omitempty"`
	Baseline       string    `yaml:"baseline,omitempty"`
	Poc            PocConfig `yaml:"poc"`
	Log            LogConfig `yaml:"log"`
}

func Default() Config {
	return Config{
		SeverityThreshold: string(model.SeverityLow),
		Poc:               PocConfig{OutDir: "poc"},
		Log:               LogConfig{Level: "warn"},
	}
}

// Load searches startDir and its parents for a config file and returns the
// decoded config and the path it came from. Without a file it returns
// Default and an empty path.
func Load(startDir string) (Config, string, error) {
	cfg := Default()
	dir, err := filepath.Abs(startDir)
	if err != nil {
		dir = startDir
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			cfg, err := Read(candidate)
			return cfg, candidate, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cfg, "", nil
}

// Read decodes one config file over Default. Unknown keys are rejected.
func Read(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.SeverityThreshold != "" {
		if _, err := model.ParseSeverity(c.SeverityThreshold); err != nil {
			errs = append(errs, fmt.Errorf("severityThreshold: %w", err))
		}
	}
	if _, err := plugins.NewSelection(c.Only, c.Exclude); err != nil {
		errs = append(errs, fmt.Errorf("only/exclude: %w", err))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers: must not be negative, got %d", c.Workers))
	}
	for i, r := range c.Ignore {
		if r.Rule == "" && r.Path == "" {
			errs = append(errs, fmt.Errorf("ignore[%d]: needs a rule or a path", i))
		}
		if r.Rule != "" {
			if _, ok := plugins.Lookup(strings.ToUpper(strings.TrimSpace(r.Rule))); !ok {
				errs = append(errs, fmt.Errorf("ignore[%d]: %w: %s", i, plugins.ErrUnknownDetector, r.Rule))
			}
		}
		if r.Expires != "" {
			if _, err := time.Parse(DateLayout, r.Expires); err != nil {
				errs = append(errs, fmt.Errorf("ignore[%d]: expires %q is not YYYY-MM-DD", i, r.Expires))
			}
		}
	}
	if c.Log.Level != "" && hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Floor is the configured severity threshold, low when unset.
func (c Config) Floor() model.Severity {
	sev, err := model.ParseSeverity(c.SeverityThreshold)
	if err != nil {
		return model.SeverityLow
	}
	return sev
}

// Selection builds the detector selection from only and exclude.
func (c Config) Selection() (plugins.Selection, error) {
	return plugins.NewSelection(c.Only, c.Exclude)
}

// Detector is the detector tuning carried by the config.
func (c Config) Detector() plugins.Config {
	return plugins.Config{AuthorityNames: c.AuthorityNames}
}

const header = `# anchorscan configuration.
# severityThreshold: lowest severity reported (critical|high|medium|low)
# only/exclude: detector IDs, for example V001
# ignore: [{rule: V003, path: programs/legacy/, reason: "...", expires: 2027-01-31}]
`

// Encode renders c as a commented YAML document.
func Encode(c Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrExists is returned by WriteDefault when a config file is present.
var ErrExists = errors.New("config file already exists")

// WriteDefault writes the default config into dir unless one exists there.
func WriteDefault(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, fmt.Errorf("%w: %s", ErrExists, p)
		}
	}
	b, err := Encode(Default())
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, FileNames[0])
	if err := os.WriteFile(p, b, 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return p, nil
}

// Normalize trims and upper-cases detector IDs in place.
func (c *Config) Normalize() {
	for i, id := range c.Only {
		c.Only[i] = strings.ToUpper(strings.TrimSpace(id))
	}
	for i, id := range c.Exclude {
		c.Exclude[i] = strings.ToUpper(strings.TrimSpace(id))
	}
	for i := range c.Ignore {
		c.Ignore[i].Rule = strings.ToUpper(strings.TrimSpace(c.Ignore[i].Rule))
		c.Ignore[i].Path = filepath.ToSlash(strings.TrimSpace(c.Ignore[i].Path))
	}
}
