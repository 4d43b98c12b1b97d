// Package config binds component configs to flags and reloads them from
// flag text at runtime.
package config

import (
	"flag"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type Config interface {
	Bind(f *flag.FlagSet, default_ Config)
	ValidateConfig() error
	Copy() Config
}

// ConfigListener parses newline separated flags ("--name=value", lines
// starting with '#' are comments) over the initial config and notifies
// callbacks with the result.
type ConfigListener struct {
	mx       sync.RWMutex
	initial  Config
	current  Config
	changeCB []func(config Config)
	logger   log.Logger
}

func NewConfigListener(config Config, logger log.Logger) *ConfigListener {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ConfigListener{
		initial: config.Copy(), // in case user overwrites his config in callback
		current: config.Copy(),
		logger:  logger,
	}
}

func (l *ConfigListener) ValidateConfig(cfg string) error {
	_, err := l.parseConfig(cfg)
	return err
}

func (l *ConfigListener) parseConfig(cfg string) (Config, error) {
	l.mx.Lock()
	defer l.mx.Unlock()
	var f flag.FlagSet
	f.Usage = func() {} // don't print usage on unknown flags
	f.Init("", flag.ContinueOnError)
	f.SetOutput(discard{})
	c := l.initial.Copy()
	c.Bind(&f, c)
	for _, line := range strings.Split(cfg, "\n") {
		t := strings.TrimSpace(line)
		if len(t) == 0 || strings.HasPrefix(t, "#") {
			continue
		}
		if err := f.Parse([]string{t}); err != nil {
			level.Warn(l.logger).Log("msg", "skipping config line", "line", t, "err", err)
		}
	}
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *ConfigListener) AddChangeCB(f func(config Config)) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.changeCB = append(l.changeCB, f)
}

// Current returns a copy of the last applied config.
func (l *ConfigListener) Current() Config {
	l.mx.RLock()
	defer l.mx.RUnlock()
	return l.current.Copy()
}

// Apply parses cfg and, if it is valid, makes it current and calls callbacks.
// An invalid config keeps the current one.
func (l *ConfigListener) Apply(cfg string) error {
	c, err := l.parseConfig(cfg)
	if err != nil {
		level.Error(l.logger).Log("msg", "failed to parse config", "err", err)
		return err
	}
	l.mx.Lock()
	l.current = c
	cbs := append([]func(Config){}, l.changeCB...)
	l.mx.Unlock()
	// do not call callback under mutex
	for _, f := range cbs {
		f(c.Copy())
	}
	return nil
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
