// Copyright 2024 The rtpscore Authors
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

package rtpscore

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the default logger's destination and verbosity,
// mirroring the teacher's stdout/stderr/discard writer choices
// (logging.go) without the JSON module-loading machinery that backs
// them there — this process has no dynamic config reload to hang a
// writer registry off of.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error". Empty means "info".
	Level string
	// Development switches to zap's console encoder and debug level,
	// matching zap.NewDevelopment's defaults.
	Development bool
	// Discard silences logging entirely.
	Discard bool
}

func (c LogConfig) level() (zapcore.Level, error) {
	switch c.Level {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("rtpscore: unrecognized log level %q", c.Level)
	}
}

// NewLogger builds a *zap.Logger from cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	if cfg.Discard {
		return zap.NewNop(), nil
	}
	if cfg.Development {
		return zap.NewDevelopment()
	}
	lvl, err := cfg.level()
	if err != nil {
		return nil, err
	}
	encCfg := zap.NewProductionEncoderConfig()
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(os.Stderr), lvl)
	return zap.New(core), nil
}

var (
	defaultLoggerMu sync.RWMutex
	defaultLogger   = zap.NewNop()
)

// SetDefaultLogger installs log as the process-wide default returned by
// Log, for packages and goroutines that aren't handed a *zap.Logger
// directly (matching the teacher's package-level Log() accessor).
func SetDefaultLogger(log *zap.Logger) {
	defaultLoggerMu.Lock()
	defaultLogger = log
	defaultLoggerMu.Unlock()
}

// Log returns the current process-wide default logger.
func Log() *zap.Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}
