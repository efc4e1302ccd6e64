package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/ehr/txengine/internal/domain/protocol"
)

type protocolFile struct {
	Protocols []protocol.Definition `mapstructure:"protocols"`
}

// LoadProtocols reads protocol definitions from a YAML, JSON or TOML file
// and builds them.
func LoadProtocols(path string) ([]protocol.Protocol, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read protocols file %s: %w", path, err)
	}

	var f protocolFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode protocols file %s: %w", path, err)
	}

	out := make([]protocol.Protocol, 0, len(f.Protocols))
	for _, d := range f.Protocols {
		p, err := d.Build()
		if err != nil {
			return nil, fmt.Errorf("protocols file %s: %w", path, err)
		}
		out = append(out, p)
	}
	return out, nil
}
