// Package nlog is the process-lifecycle logger (startup, shutdown,
// producer supervision) — distinct from rlog's per-mutation JSON lines.
// Mirrors the teacher's cmn/nlog call surface (Infof/Warningf/Errorf)
// but delegates to log/slog instead of a custom buffering writer.
package nlog

import (
	"fmt"
	"log/slog"
)

func Infof(format string, args ...any)    { slog.Info(fmt.Sprintf(format, args...)) }
func Warningf(format string, args ...any) { slog.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any)   { slog.Error(fmt.Sprintf(format, args...)) }
