// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration from a file whenever it changes on disk.
// ojoctl's one-shot invocations never need it; a long-running daemon entry
// point would call Watch once at startup so its Runner picks up edited
// gate limits and retry policy without a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// Watch opens an fsnotify watch on configPath and returns a Watcher whose
// Start delivers freshly-reloaded Config values to onChange. Reload errors
// are logged and skipped, leaving the previously loaded Config in effect.
func Watch(configPath string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating file watcher: %w", err)
	}
	if err := fsw.Add(configPath); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", configPath, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: configPath, watcher: fsw, logger: logger}, nil
}

// Start runs the watch loop until ctx is cancelled or Stop is called,
// invoking onChange with every successfully reloaded Config.
func (w *Watcher) Start(ctx context.Context, onChange func(*Config)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
					continue
				}
				w.logger.Info("config reloaded", "path", w.path)
				onChange(cfg)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config watcher error", "err", err)
			}
		}
	}()
}

// Stop releases the underlying fsnotify watch.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
