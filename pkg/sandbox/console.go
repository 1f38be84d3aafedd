package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// console builds the console shim injected into every VM. Script logging goes
// to the host's structured log, tagged with the unit, and nowhere else.
func console(unitID string) map[string]any {
	emit := func(level slog.Level) func(args ...any) {
		return func(args ...any) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = fmt.Sprintf("%v", a)
			}
			slog.Log(context.Background(), level, "Script console", "unit", unitID, "message", strings.Join(parts, " "))
		}
	}
	return map[string]any{
		"log":   emit(slog.LevelDebug),
		"info":  emit(slog.LevelDebug),
		"warn":  emit(slog.LevelWarn),
		"error": emit(slog.LevelWarn),
	}
}
