package effects

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Config tunes a Runtime.
type Config struct {
	// NumWorkers is the number of dispatcher lanes.
	NumWorkers int `yaml:"num_workers"`
	// BufferSize is the initial queue capacity of each lane.
	BufferSize int `yaml:"buffer_size"`
	// YieldOpCount makes a fiber yield its lane after that many instructions. 0 never yields.
	YieldOpCount int `yaml:"yield_op_count"`
	// TrackFibers keeps a registry of live fibers for Runtime.Fibers.
	TrackFibers bool   `yaml:"track_fibers"`
	LogLevel    string `yaml:"log_level"`
}

// NewConfig returns a config with non-positive sizes raised to 1.
func NewConfig(bufferSize, numWorkers int) Config {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return Config{
		NumWorkers:   numWorkers,
		BufferSize:   bufferSize,
		YieldOpCount: 2048,
		LogLevel:     "info",
	}
}

func DefaultConfig() Config {
	return NewConfig(64, 1)
}

type configDocument struct {
	Runtime Config `yaml:"runtime"`
}

// LoadConfig reads a YAML document with a top-level "runtime" key on top of DefaultConfig.
func LoadConfig(r io.Reader) (Config, error) {
	doc := configDocument{Runtime: DefaultConfig()}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("failed to decode runtime config: %w", err)
	}
	c := doc.Runtime
	normalized := NewConfig(c.BufferSize, c.NumWorkers)
	c.BufferSize, c.NumWorkers = normalized.BufferSize, normalized.NumWorkers
	if c.YieldOpCount < 0 {
		c.YieldOpCount = 0
	}
	return c, nil
}
