package broker

import (
	"github.com/vx-labs/perch/catalog"
	"github.com/vx-labs/perch/commitlog"
)

const maxNameLength = 255

type Config struct {
	DataDir          string           `yaml:"data-dir" json:"data_dir"`
	MaxPartitions    uint32           `yaml:"max-partitions" json:"max_partitions"`
	MaxFetchMessages int              `yaml:"max-fetch-messages" json:"max_fetch_messages"`
	Log              commitlog.Config `yaml:"log" json:"log"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:          "/tmp/perch",
		MaxPartitions:    1000,
		MaxFetchMessages: 10000,
		Log:              commitlog.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.DataDir == "":
		return catalog.InvalidConfiguration("data directory must be set")
	case c.MaxPartitions == 0:
		return catalog.InvalidConfiguration("max partitions must be positive")
	case c.MaxFetchMessages <= 0:
		return catalog.InvalidConfiguration("max fetch messages must be positive")
	}
	return c.Log.Validate()
}
