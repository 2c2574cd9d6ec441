/*
   Copyright @ 2021 bocloud <fushaosong@beyondcent.com>.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package configuration

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/carina-io/blockmgr/utils"
	"github.com/carina-io/blockmgr/utils/exec"
	"github.com/carina-io/blockmgr/utils/log"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// 配置文件路径
const (
	configPath = "/etc/blockmgr/"
	envPrefix  = "BLOCKMGR"

	MapperDiscoverySysfs   = "sysfs"
	MapperDiscoveryCommand = "command"
)

var opt = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

type Config struct {
	// Escalate runs every command through EscalationPath, e.g. sudo
	Escalate       bool   `mapstructure:"escalate" json:"escalate"`
	EscalationPath string `mapstructure:"escalationPath" json:"escalationPath"`
	// CommandTimeout of 0 never interrupts a command, fsck may legitimately take hours
	CommandTimeout time.Duration `mapstructure:"commandTimeout" json:"commandTimeout"`
	// Env entries KEY=VALUE are added to the environment of every command
	Env             []string `mapstructure:"env" json:"env"`
	WorkDir         string   `mapstructure:"workDir" json:"workDir"`
	SysfsRoot       string   `mapstructure:"sysfsRoot" json:"sysfsRoot"`
	ProcfsRoot      string   `mapstructure:"procfsRoot" json:"procfsRoot"`
	MapperDiscovery string   `mapstructure:"mapperDiscovery" json:"mapperDiscovery"`
	HttpAddr        string   `mapstructure:"httpAddr" json:"httpAddr"`
	LogLevel        string   `mapstructure:"logLevel" json:"logLevel"`
}

var defaults = map[string]interface{}{
	"escalate":        false,
	"escalationPath":  exec.DefaultEscalationPath,
	"commandTimeout":  "0s",
	"env":             []string{},
	"workDir":         "",
	"sysfsRoot":       "/sys",
	"procfsRoot":      "/proc",
	"mapperDiscovery": MapperDiscoverySysfs,
	"httpAddr":        ":8089",
	"logLevel":        "info",
}

// Default is the configuration used when no file is present.
func Default() *Config {
	c, err := decode(newViper())
	if err != nil {
		// defaults are static, decoding them cannot fail
		panic(err)
	}
	return c
}

// ExecutorConfig translates the configuration for exec.NewCommandExecutor.
func (c *Config) ExecutorConfig() exec.Config {
	return exec.Config{
		Escalate:       c.Escalate,
		EscalationPath: c.EscalationPath,
		Env:            c.Env,
		Dir:            c.WorkDir,
		Timeout:        c.CommandTimeout,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c, opt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the configuration: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, fmt.Errorf("failed to validate the configuration: %w", err)
	}
	return &c, nil
}

// Loader owns the configuration read from disk and reloads it on change.
type Loader struct {
	v                  *viper.Viper
	mu                 sync.RWMutex
	current            *Config
	configModifyNotice []chan<- struct{}
}

// Load reads file, or config.json / config.yaml below /etc/blockmgr/ when
// file is empty. A missing default file leaves the defaults in place, a
// missing explicit file is an error.
func Load(file string) (*Loader, error) {
	v := newViper()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(configPath)
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to get the configuration: %w", err)
		}
		log.Infof("no configuration file in %s, using defaults", configPath)
	}

	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, current: c}, nil
}

func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ConfigFile is the file in use, empty when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// RegisterListenerChan is notified after every accepted change. Notification
// does not block, use a buffered channel.
func (l *Loader) RegisterListenerChan(c chan<- struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configModifyNotice = append(l.configModifyNotice, c)
}

// WatchConfig reloads the file whenever it changes. An invalid change is
// logged and ignored, the previous configuration stays active.
func (l *Loader) WatchConfig() {
	if l.ConfigFile() == "" {
		log.Warn("no configuration file to watch")
		return
	}
	l.v.OnConfigChange(func(event fsnotify.Event) {
		log.Infof("Detect config change: %s", event.String())
		c, err := decode(l.v)
		if err != nil {
			log.Errorf("%s, ignore this change", err)
			return
		}
		l.mu.Lock()
		l.current = c
		listeners := append([]chan<- struct{}{}, l.configModifyNotice...)
		l.mu.Unlock()

		for _, ch := range listeners {
			select {
			case ch <- struct{}{}:
			default:
				log.Warn("configuration listener is not ready, drop change event")
			}
		}
	})
	l.v.WatchConfig()
}

func validate(c *Config) error {
	if c.Escalate && !filepath.IsAbs(c.EscalationPath) {
		return fmt.Errorf("escalationPath must be an absolute path: %q", c.EscalationPath)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("commandTimeout must not be negative: %s", c.CommandTimeout)
	}
	for _, e := range c.Env {
		if !strings.Contains(e, "=") {
			return fmt.Errorf("env entry must be KEY=VALUE: %q", e)
		}
	}
	if c.WorkDir != "" && !filepath.IsAbs(c.WorkDir) {
		return fmt.Errorf("workDir must be an absolute path: %q", c.WorkDir)
	}
	if !filepath.IsAbs(c.SysfsRoot) {
		return fmt.Errorf("sysfsRoot must be an absolute path: %q", c.SysfsRoot)
	}
	if !filepath.IsAbs(c.ProcfsRoot) {
		return fmt.Errorf("procfsRoot must be an absolute path: %q", c.ProcfsRoot)
	}
	c.MapperDiscovery = strings.ToLower(c.MapperDiscovery)
	if !utils.ContainsString([]string{MapperDiscoverySysfs, MapperDiscoveryCommand}, c.MapperDiscovery) {
		return fmt.Errorf("mapperDiscovery must either sysfs or command: %s", c.MapperDiscovery)
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	return nil
}
