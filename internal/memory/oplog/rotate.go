package oplog

import "gopkg.in/natefinch/lumberjack.v2"

// RotateHook returns a lumberjack.Logger for path that rotates by size
// (maxSizeMB), keeps up to maxBackups old files for up to maxAgeDays, and
// compresses rotated files. Nothing in the service calls it: Log writes to a
// plain os.File and never rotates or truncates the operation log.
func RotateHook(path string, maxSizeMB, maxBackups, maxAgeDays int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}
