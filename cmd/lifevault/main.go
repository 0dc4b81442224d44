package main

import (
	"log/slog"
	"os"
	"path/filepath"
)

const (
	logDir             = "logs"
	logFileName        = "lifevault.log"
	logFilePermissions = 0o666
)

// Переменные для версии и даты сборки, устанавливаются через ldflags.
//
//nolint:gochecknoglobals // Устанавливаются через ldflags при сборке
var (
	version    = "dev"
	buildDate  = "unknown"
	commitHash = "N/A"
)

// setupLogging направляет slog в файл logs/lifevault.log, чтобы не смешивать
// журнал с выводом команд.
func setupLogging() *os.File {
	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		panic("Не удалось создать директорию для логов: " + err.Error())
	}
	logPath := filepath.Join(logDir, logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions)
	if err != nil {
		panic("Не удалось открыть лог-файл: " + err.Error())
	}
	logHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(logHandler))
	slog.Info("Логгер инициализирован", "path", logPath)
	return logFile
}

func main() {
	logFile := setupLogging()
	defer logFile.Close()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Команда завершилась с ошибкой", "error", err)
		logFile.Close()
		os.Exit(1)
	}
}
