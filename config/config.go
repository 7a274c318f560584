package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultConfigFile = "fawatch.toml"

type MonitorConf struct {
	Mode         string
	DirEvents    bool
	IgnoreSelf   bool
	IgnorePids   []int32
	BufferSize   int
	FsTypes      []string
	CurrentMount bool
}

type WatchConf struct {
	Path  string
	Scope string
}

type OutputConf struct {
	File       string
	Timestamps bool
	Seconds    int
}

type LoggerConf struct {
	Style   string
	Verbose bool
}

type HTTPConf struct {
	Enable bool
	Port   int
}

type Config struct {
	Monitor MonitorConf
	Watch   []WatchConf
	Output  OutputConf
	Logger  LoggerConf
	HTTP    HTTPConf
}

var ConfigNotFound = errors.New("Config file not found")

// Accepted spellings of Monitor.Mode and Watch.Scope, aliases included.
var (
	Modes  = []string{"descriptor", "fd", "handle", "fid"}
	Scopes = []string{"object", "path", "mount", "filesystem", "fs"}
	styles = []string{"text", "terminal"}
)

func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorConf{
			Mode:       "descriptor",
			IgnoreSelf: true,
			IgnorePids: []int32{},
			BufferSize: 64 * 1024,
			FsTypes:    []string{"ext4", "xfs", "btrfs", "vfat"},
		},
		Watch: []WatchConf{},
		Logger: LoggerConf{
			Style: "text",
		},
		HTTP: HTTPConf{
			Enable: false,
			Port:   8888,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(Modes, strings.ToLower(c.Monitor.Mode)) {
		errs = append(errs, fmt.Errorf("Monitor.Mode %q is not one of %v", c.Monitor.Mode, Modes))
	}
	if c.Monitor.BufferSize < 4096 {
		errs = append(errs, fmt.Errorf("Monitor.BufferSize %d is below 4096", c.Monitor.BufferSize))
	}
	if len(c.Watch) == 0 && len(c.Monitor.FsTypes) == 0 && !c.Monitor.CurrentMount {
		errs = append(errs, errors.New("nothing to watch: no Watch entries, no Monitor.FsTypes and no Monitor.CurrentMount"))
	}
	for i, w := range c.Watch {
		if w.Path == "" {
			errs = append(errs, fmt.Errorf("Watch[%d] has no Path", i))
		}
		if w.Scope != "" && !slices.Contains(Scopes, strings.ToLower(w.Scope)) {
			errs = append(errs, fmt.Errorf("Watch[%d].Scope %q is not one of %v", i, w.Scope, Scopes))
		}
	}
	if c.Output.Seconds < 0 {
		errs = append(errs, fmt.Errorf("Output.Seconds %d is negative", c.Output.Seconds))
	}
	if !slices.Contains(styles, c.Logger.Style) {
		errs = append(errs, fmt.Errorf("Logger.Style %q is not one of %v", c.Logger.Style, styles))
	}
	if c.HTTP.Enable && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		errs = append(errs, fmt.Errorf("HTTP.Port %d out of range", c.HTTP.Port))
	}
	return errors.Join(errs...)
}

func (c *Config) IsValid() bool {
	return c.Validate() == nil
}

// ReadConfig decodes configFile on top of DefaultConfig, so a file only
// needs the keys it changes. Unknown keys are an error.
func ReadConfig(configFile string) (*Config, error) {
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		return nil, ConfigNotFound
	}

	config := DefaultConfig()
	md, err := toml.DecodeFile(configFile, config)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("Unknown keys in %s: %v", configFile, undecoded)
	}
	return config, nil
}

func (c *Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
