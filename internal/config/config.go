// Package config holds the immutable run configuration of a campaign.
//
// A Config is built once per invocation (defaults, then an optional YAML file,
// then CLI overrides applied to the value) and passed explicitly to every
// component. Nothing in the harness reads configuration from globals.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Tools names the external executables the harness invokes. Bare names are
// resolved against PATH after the binary directory has been appended to it.
type Tools struct {
	Dispatch string `yaml:"dispatch"`
	VMNode   string `yaml:"vm_node"`
	SVMNode  string `yaml:"svm_node"`
	Zip      string `yaml:"zip"`
	Compare  string `yaml:"compare"`
	Replay   string `yaml:"replay"`
	Lcov     string `yaml:"lcov"`
	Genhtml  string `yaml:"genhtml"`
	Compiler string `yaml:"compiler"`
}

// Config is the full set of knobs for one campaign run.
type Config struct {
	// BinDir is the CRETE build directory. Empty means the fleet binaries
	// are found on PATH.
	BinDir string `yaml:"bin_dir"`

	MasterIP     string `yaml:"master_ip"`
	MasterPort   int    `yaml:"master_port"`
	VMInstances  int    `yaml:"vm_instances"`
	SVMInstances int    `yaml:"svm_instances"`

	// Timeout in seconds, passed to the dispatcher as --time-out and used
	// as the supervision deadline. 0 disables the deadline.
	Timeout int `yaml:"timeout"`

	// Supervision timings. All must be positive, except KillAfter, which
	// may be negative to never escalate to SIGKILL.
	Stagger   time.Duration `yaml:"stagger"`
	Poll      time.Duration `yaml:"poll"`
	Grace     time.Duration `yaml:"grace"`
	KillAfter time.Duration `yaml:"kill_after"`

	ExpectedTestCases int `yaml:"expected_test_cases"`

	Tools Tools `yaml:"tools"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		MasterIP:          "localhost",
		MasterPort:        10055,
		VMInstances:       1,
		SVMInstances:      1,
		Timeout:           0,
		Stagger:           2 * time.Second,
		Poll:              time.Second,
		Grace:             5 * time.Second,
		KillAfter:         10 * time.Second,
		ExpectedTestCases: 4,
		Tools: Tools{
			Dispatch: "crete-dispatch",
			VMNode:   "crete-vm-node",
			SVMNode:  "crete-svm-node",
			Zip:      "zip",
			Compare:  "crete-tc-compare",
			Replay:   "crete-tc-replay",
			Lcov:     "lcov",
			Genhtml:  "genhtml",
			Compiler: "g++",
		},
	}
}

// Load returns Default overlaid with the YAML file at path. Keys absent from
// the file keep their default; unknown keys are an error. An empty path
// returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Deadline is the supervision deadline; 0 means none.
func (c Config) Deadline() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.MasterIP == "" {
		errs = append(errs, errors.New("master_ip must not be empty"))
	}
	if c.MasterPort < 1 || c.MasterPort > 65535 {
		errs = append(errs, fmt.Errorf("master_port %d out of range", c.MasterPort))
	}
	if c.VMInstances < 1 {
		errs = append(errs, fmt.Errorf("vm_instances must be >= 1, got %d", c.VMInstances))
	}
	if c.SVMInstances < 1 {
		errs = append(errs, fmt.Errorf("svm_instances must be >= 1, got %d", c.SVMInstances))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must be >= 0, got %d", c.Timeout))
	}
	// The supervisor reads a zero duration as "use the default", so a
	// configured zero would be silently replaced.
	for _, d := range []struct {
		name string
		val  time.Duration
	}{{"stagger", c.Stagger}, {"poll", c.Poll}, {"grace", c.Grace}} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", d.name, d.val))
		}
	}
	if c.KillAfter == 0 {
		errs = append(errs, errors.New("kill_after must not be 0; use a negative value to wait for terminated workers forever"))
	}
	if c.ExpectedTestCases < 0 {
		errs = append(errs, fmt.Errorf("expected_test_cases must be >= 0, got %d", c.ExpectedTestCases))
	}
	for name, v := range map[string]string{
		"dispatch": c.Tools.Dispatch, "vm_node": c.Tools.VMNode, "svm_node": c.Tools.SVMNode,
		"zip": c.Tools.Zip, "compare": c.Tools.Compare, "replay": c.Tools.Replay,
		"lcov": c.Tools.Lcov, "genhtml": c.Tools.Genhtml, "compiler": c.Tools.Compiler,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("tools.%s must not be empty", name))
		}
	}
	return errors.Join(errs...)
}
