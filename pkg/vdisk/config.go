package vdisk

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	. "github.com/weberc2/vdisk/pkg/types"
)

const envVarPrefix = "vdisk"

// geometry is the loadable form of Config: defaults, then an optional YAML
// profile named by VDISK_CONFIG_FILE, then VDISK_* environment variables,
// each layer overriding the last.
type geometry struct {
	BlockSize uint64 `envconfig:"VDISK_BLOCK_SIZE" yaml:"blockSize"`
	InodeSize uint64 `envconfig:"VDISK_INODE_SIZE" yaml:"inodeSize"`
	NumBlocks uint64 `envconfig:"VDISK_NUM_BLOCKS" yaml:"numBlocks"`
	NumInodes uint64 `envconfig:"VDISK_NUM_INODES" yaml:"numInodes"`
}

// DefaultConfig is a general-purpose geometry: 4 KiB blocks, 128-byte
// inodes, a 256 MiB data region.
func DefaultConfig() Config {
	return Config{
		BlockSize: 4096,
		InodeSize: 128,
		NumBlocks: 65536,
		NumInodes: 4096,
	}
}

// LoadConfig resolves the format geometry from the environment.
func LoadConfig() (Config, error) {
	defaults := DefaultConfig()
	geo := geometry{
		BlockSize: uint64(defaults.BlockSize),
		InodeSize: uint64(defaults.InodeSize),
		NumBlocks: uint64(defaults.NumBlocks),
		NumInodes: uint64(defaults.NumInodes),
	}

	if path := os.Getenv("VDISK_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf(
				"loading config file `%s`: %w",
				path,
				err,
			)
		}
		if err := yaml.Unmarshal(data, &geo); err != nil {
			return Config{}, fmt.Errorf(
				"parsing config file `%s`: %w",
				path,
				err,
			)
		}
	}

	if err := envconfig.Process(envVarPrefix, &geo); err != nil {
		return Config{}, fmt.Errorf("processing environment: %w", err)
	}

	config := Config{
		BlockSize: Byte(geo.BlockSize),
		InodeSize: Byte(geo.InodeSize),
		NumBlocks: Block(geo.NumBlocks),
		NumInodes: Ino(geo.NumInodes),
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
