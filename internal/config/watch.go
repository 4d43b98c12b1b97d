package config

import (
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log/level"
)

const maxConfigFileSize = 1024 * 1024

func readConfigFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	return string(data), nil
}

// ListenConfigFile applies the file to the listener and reapplies it on every
// change until closeF is called. Empty path disables watching.
func (l *ConfigListener) ListenConfigFile(filePath string) (closeF func(), _ error) {
	emptyFunc := func() {}
	if filePath == "" {
		return emptyFunc, nil
	}
	cfg, err := readConfigFile(filePath)
	if err != nil {
		return emptyFunc, err
	}
	if err = l.Apply(cfg); err != nil {
		return emptyFunc, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return emptyFunc, err
	}
	if err = w.Add(filePath); err != nil {
		_ = w.Close()
		return emptyFunc, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := readConfigFile(filePath)
				if err != nil {
					level.Warn(l.logger).Log("msg", "config reading error", "path", filePath, "err", err)
					continue
				}
				if l.Apply(cfg) == nil {
					level.Info(l.logger).Log("msg", "config reloaded", "path", filePath)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				level.Warn(l.logger).Log("msg", "config watching error", "path", filePath, "err", err)
			}
		}
	}()
	return func() {
		_ = w.Close()
		<-done
	}, nil
}
