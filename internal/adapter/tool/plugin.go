package tool

import "realmforge/internal/domain"

// StaticPlugin exports a fixed list of descriptors.
type StaticPlugin struct {
	PluginName string
	Tools      []domain.ToolDescriptor
}

func (p StaticPlugin) Name() string                          { return p.PluginName }
func (p StaticPlugin) Descriptors() []domain.ToolDescriptor { return p.Tools }

// ErrorPlugin stands in for a plugin that could not be loaded.
type ErrorPlugin struct {
	PluginName string
	Err        error
}

func (p ErrorPlugin) Name() string                          { return p.PluginName }
func (p ErrorPlugin) Descriptors() []domain.ToolDescriptor { return nil }
func (p ErrorPlugin) LoadErr() error                        { return p.Err }
