package domain

// Plugin is a capability source. It exports tool descriptors when the
// registry runs discovery.
type Plugin interface {
	Name() string
	Descriptors() []ToolDescriptor
}

// LoadErrorPlugin is implemented by plugins that failed to initialise. The
// registry skips them during discovery.
type LoadErrorPlugin interface {
	Plugin
	LoadErr() error
}
