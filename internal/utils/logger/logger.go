// Package logger настраивает slog для терминала.
package logger

import (
	"io"
	"os"

	"golang.org/x/exp/slog"
	"gopkg.in/natefinch/lumberjack.v2"

	"possync/internal/app/terminal/config"
)

// Параметры ротации файла журнала.
const (
	maxFileSizeMB = 50
	maxBackups    = 5
	maxAgeDays    = 14
)

// New возвращает логгер для окружения env: цветной вывод для local,
// JSON с DEBUG для dev и JSON с INFO для prod.
func New(env string) *slog.Logger {
	return newLogger(env, os.Stdout)
}

// NewWithFile дублирует журнал в файл path с ротацией. Возвращенный
// Closer закрывает файл.
func NewWithFile(env, path string) (*slog.Logger, io.Closer) {
	if path == "" {
		return New(env), nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxFileSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	if env == config.EnvLocal {
		// В файл цветной вывод не пишем.
		pretty := setupPrettySlog().Handler()
		jsonFile := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
		return slog.New(&teeHandler{handlers: []slog.Handler{pretty, jsonFile}}), file
	}
	return newLogger(env, io.MultiWriter(os.Stdout, file)), file
}

func newLogger(env string, w io.Writer) *slog.Logger {
	switch env {
	case config.EnvLocal, "":
		return setupPrettySlog()
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

func setupPrettySlog() *slog.Logger {
	opts := PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
	}
	return slog.New(opts.NewPrettyHandler(os.Stdout))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewCLI логгер для разовых команд: текст в stderr, чтобы не мешать
// выводу команды. Без debug пишутся только предупреждения и ошибки.
func NewCLI(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
