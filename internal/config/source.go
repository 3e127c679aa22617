package config

import (
	"tributary/source/nakadi"
)

// LoadSourceConfig delegates to the Nakadi source loader while centralizing
// loader entrypoints under internal/config.
func LoadSourceConfig(path string) (nakadi.Config, error) {
	return nakadi.LoadConfig(path)
}
