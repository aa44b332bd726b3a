package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/voxact/internal/app"
	"github.com/MrWong99/voxact/internal/config"
)

// newLogger builds the process logger. Output goes to stderr and, when
// configured, to a rotating log file. The level is read from level so it can
// be changed on reload. The returned func closes the log file.
func newLogger(sc config.ServerConfig, level *slog.LevelVar) (*slog.Logger, func()) {
	level.Set(app.ParseLevel(sc.LogLevel))

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if lf := sc.LogFile; lf != nil {
		rot := &lumberjack.Logger{
			Filename:   lf.Path,
			MaxSize:    lf.MaxSizeMB,
			MaxBackups: lf.MaxBackups,
			MaxAge:     lf.MaxAgeDays,
			Compress:   lf.Compress,
		}
		w = io.MultiWriter(os.Stderr, rot)
		closeFn = func() { _ = rot.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if sc.LogFormat == config.LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closeFn
}
