// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package edgelog configures the process-wide logrus logger and exposes
// the request-scoped field helpers shared by every component.
package edgelog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base = logrus.New()
)

// Configure sets the logger's level and output format. level must be a
// value accepted by logrus.ParseLevel ("debug", "info", "warn", ...);
// format is either "json" or "text".
func Configure(level, format string) {
	once.Do(func() { base.SetOutput(os.Stderr) })
	if lv, err := logrus.ParseLevel(level); err == nil {
		base.SetLevel(lv)
	}
	if format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Log returns the shared logger.
func Log() *logrus.Logger { return base }

// With is a convenience wrapper around Log().WithFields.
func With(fields logrus.Fields) *logrus.Entry { return base.WithFields(fields) }
