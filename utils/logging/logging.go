package logging

import (
	"log/slog"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"
	SEED   LogCode = "SEED"

	// DATA OPERATIONS (DATA*)
	FILE_VALIDATION LogCode = "FILE_VALIDATION"
	FILE_STORAGE    LogCode = "FILE_STORAGE"

	// CARTE OPERATIONS (CARTE*)
	CARTE_UPLOAD   LogCode = "CARTE_UPLOAD"
	CARTE_ASSIGN   LogCode = "CARTE_ASSIGN"
	CARTE_DOWNLOAD LogCode = "CARTE_DOWNLOAD"
)

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}

func Code(code LogCode) slog.Attr {
	return slog.String("code", string(code))
}
