// Copyright 2024-2026 Aiku AI

package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exzerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aiku/chatguard/pkg/chat"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogger builds the process logger: human readable output on stderr
// and, when logging.file is set, JSON lines in a size-rotated file.
func setupLogger(cfg chat.LoggingConfig) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if logLevel != "" {
		level, err = zerolog.ParseLevel(logLevel)
	}
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	var (
		out    io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
		}
		out = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	exzerolog.SetupDefaults(&log)
	return log, closer
}
