package modkit

import "oscartools/internal/platform/logger"

// Option mutates build configuration for a module
type Option func(*buildCfg)

// buildCfg is internal wiring state for options
type buildCfg struct {
	name  string
	ports any
	log   *logger.Logger
}

// WithName sets a module name used in logs
func WithName(name string) Option {
	return func(c *buildCfg) { c.name = name }
}

// WithPorts injects cross module ports declared by another module
// the concrete type is owned by the importing module
func WithPorts[T any](p T) Option {
	return func(c *buildCfg) { c.ports = p }
}

// WithLogger overrides Deps.Log for one module
func WithLogger(l logger.Logger) Option {
	return func(c *buildCfg) { c.log = &l }
}
