// Package settings holds the broker configuration flags shared by perch and perchctl.
package settings

import (
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/perch/broker"
	"github.com/vx-labs/perch/commitlog"
)

// EnvPrefix is the environment prefix of the perch server.
const EnvPrefix = "PERCH"

var keys = []string{
	"config-file", "data-dir", "max-partitions", "max-fetch-messages",
	"segment-max-size", "segment-max-messages", "index-interval-bytes", "index-interval-messages",
	"max-payload-size", "max-headers-size", "max-batch-messages", "fsync-on-append", "id-generator",
}

// Register declares the broker flags as persistent flags of cmd.
func Register(cmd *cobra.Command) {
	defaults := broker.DefaultConfig()
	cmd.PersistentFlags().String("config-file", "", "Read configuration from this YAML file.")
	cmd.PersistentFlags().StringP("data-dir", "d", defaults.DataDir, "Perch persistent data location.")
	cmd.PersistentFlags().Uint32("max-partitions", defaults.MaxPartitions, "Maximum partition count of a topic.")
	cmd.PersistentFlags().Int("max-fetch-messages", defaults.MaxFetchMessages, "Maximum message count returned by a single fetch.")
	cmd.PersistentFlags().Uint64("segment-max-size", defaults.Log.SegmentMaxSize, "Segment size, in bytes, beyond which a new segment is started.")
	cmd.PersistentFlags().Uint64("segment-max-messages", defaults.Log.SegmentMaxMessages, "Message count beyond which a new segment is started. 0 disables the limit.")
	cmd.PersistentFlags().Uint64("index-interval-bytes", defaults.Log.IndexIntervalBytes, "Log bytes between two sparse index entries.")
	cmd.PersistentFlags().Uint64("index-interval-messages", defaults.Log.IndexIntervalMessages, "Messages between two sparse index entries. 0 disables the limit.")
	cmd.PersistentFlags().Uint64("max-payload-size", defaults.Log.MaxPayloadSize, "Maximum message payload size, in bytes.")
	cmd.PersistentFlags().Uint64("max-headers-size", defaults.Log.MaxHeadersSize, "Maximum encoded message headers size, in bytes.")
	cmd.PersistentFlags().Int("max-batch-messages", defaults.Log.MaxBatchMessages, "Maximum message count of an appended batch.")
	cmd.PersistentFlags().Bool("fsync-on-append", defaults.Log.FsyncOnAppend, "Flush segments to disk after every append.")
	cmd.PersistentFlags().String("id-generator", defaults.Log.IDGenerator, "Message ID generator (ulid or uuid).")
}

// BindServerEnv binds the broker keys to the environment variables read by the perch server,
// for tools using another environment prefix.
func BindServerEnv(config *viper.Viper) {
	for _, key := range keys {
		config.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.Replace(key, "-", "_", -1)))
	}
}

// ReadConfigFile merges the YAML file named by the config-file key, if any.
func ReadConfigFile(config *viper.Viper) {
	if path := config.GetString("config-file"); path != "" {
		config.SetConfigFile(path)
		if err := config.MergeInConfig(); err != nil {
			log.Fatal(err)
		}
	}
}

func Broker(config *viper.Viper) broker.Config {
	return broker.Config{
		DataDir:          config.GetString("data-dir"),
		MaxPartitions:    config.GetUint32("max-partitions"),
		MaxFetchMessages: config.GetInt("max-fetch-messages"),
		Log: commitlog.Config{
			SegmentMaxSize:        config.GetUint64("segment-max-size"),
			SegmentMaxMessages:    config.GetUint64("segment-max-messages"),
			IndexIntervalBytes:    config.GetUint64("index-interval-bytes"),
			IndexIntervalMessages: config.GetUint64("index-interval-messages"),
			MaxPayloadSize:        config.GetUint64("max-payload-size"),
			MaxHeadersSize:        config.GetUint64("max-headers-size"),
			MaxBatchMessages:      config.GetInt("max-batch-messages"),
			FsyncOnAppend:         config.GetBool("fsync-on-append"),
			IDGenerator:           config.GetString("id-generator"),
		},
	}
}
