package modkit

import "oscartools/internal/platform/logger"

// Built is a plain struct with the fields modules care about
type Built struct {
	Name  string
	Ports any
	// Log is the override from WithLogger, nil when unset
	Log *logger.Logger
}

// Build applies Option funcs to an internal buildCfg and returns a plain struct
func Build(opts ...Option) Built {
	var c buildCfg
	for _, o := range opts {
		if o != nil {
			o(&c)
		}
	}
	return Built{Name: c.name, Ports: c.ports, Log: c.log}
}

// LoggerOr returns the WithLogger override or the fallback
func (b Built) LoggerOr(fallback logger.Logger) logger.Logger {
	if b.Log != nil {
		return *b.Log
	}
	return fallback
}
