package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func getLogger(config *viper.Viper) *zap.Logger {
	if config.GetBool("debug") {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(colorable.NewColorableStdout()), zap.DebugLevel)
		return zap.New(core, zap.AddCaller(), zap.Development())
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if level := config.GetString("log-level"); level != "" {
		if err := logConfig.Level.UnmarshalText([]byte(level)); err != nil {
			fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", level, err)
			os.Exit(1)
		}
	}
	logger, err := logConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
