// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package dlog provides the single structured logger shared by the engine.
// It mirrors the package-level singleton pattern used for logging
// throughout the example pack: one configured instance, accessed via
// Logger(), with call sites attaching fields rather than formatting strings.
package dlog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// Logger returns the shared engine logger, lazily initialized at info level.
// The engine itself never reads configuration from the environment; a host
// process (e.g. cmd/dflow-demo) may call SetLevel explicitly instead.
func Logger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// SetLevel overrides the logger's level, used by cmd/dflow-demo's -log-level
// flag so a CLI caller doesn't have to set an environment variable.
func SetLevel(level logrus.Level) {
	Logger().SetLevel(level)
}
