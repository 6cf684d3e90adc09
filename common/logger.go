package common

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. It defaults to a no-op until InitLogger
// runs, so packages can log unconditionally.
var Log = zap.NewNop().Sugar()

// InitLogger wires the rotating file sink plus console output. The file
// sink always records debug; debug widens the console level too.
func InitLogger(debug bool) {
	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(AppDirs.Logs, "ipahook.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	})

	consoleLevel := zapcore.InfoLevel
	if debug {
		consoleLevel = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, zapcore.DebugLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stderr), consoleLevel),
	)
	Log = zap.New(core).Sugar()
}

// LogProgress reports pipeline start and completion through the process
// logger. It satisfies the patcher's progress contract.
type LogProgress struct{}

func (LogProgress) Begin(archivePath string) {
	Log.Infof("Patching %s", archivePath)
}

func (LogProgress) End(archivePath string) {
	Log.Infof("Finished %s", archivePath)
}
