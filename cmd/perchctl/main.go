package main

import (
	"context"
	"log"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/perch/broker"
	"github.com/vx-labs/perch/cmd/internal/settings"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return path.Join(dir, "perchctl")
}

func getLogger(config *viper.Viper) *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.DisableStacktrace = true
	logConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if config.GetBool("debug") {
		logConfig.Level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := logConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// mustOpen opens the data directory of a stopped perch server, with the settings the server runs with.
func mustOpen(ctx context.Context, config *viper.Viper) (*broker.Broker, *zap.Logger) {
	l := getLogger(config)
	brokerConfig := settings.Broker(config)
	b, err := broker.Open(broker.StoreLogger(ctx, l), brokerConfig)
	if err != nil {
		l.Fatal("failed to open data directory", zap.String("data_dir", brokerConfig.DataDir), zap.Error(err))
	}
	return b, l
}

func main() {
	config := viper.New()
	config.AddConfigPath(configDir())
	config.SetConfigType("yaml")
	config.SetConfigName("config")
	config.SetEnvPrefix("PERCHCTL")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()
	settings.BindServerEnv(config)

	ctx := context.Background()
	rootCmd := &cobra.Command{
		Use: "perchctl",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.BindPFlags(cmd.Flags())
			config.BindPFlags(cmd.PersistentFlags())
			if err := config.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					log.Fatal(err)
				}
			}
			settings.ReadConfigFile(config)
		},
	}
	rootCmd.AddCommand(Streams(ctx, config))
	rootCmd.AddCommand(Topics(ctx, config))
	rootCmd.AddCommand(Segments(ctx, config))
	rootCmd.AddCommand(Groups(ctx, config))
	rootCmd.AddCommand(Messages(ctx, config))
	rootCmd.AddCommand(Errors(config))
	rootCmd.PersistentFlags().BoolP("debug", "", false, "Increase log verbosity.")
	settings.Register(rootCmd)
	rootCmd.Execute()
}
