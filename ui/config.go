package ui

// Config contains TUI-specific configuration.
type Config struct {
	// Article file path, empty when read from stdin
	Path string
	// Reload and restart the article when Path changes
	Watch bool

	Width          uint   `env:"READALOUD_WIDTH" envDefault:"80"`
	EnableMouse    bool   `env:"READALOUD_MOUSE"`
	HighlightColor string `env:"READALOUD_HIGHLIGHT_COLOR" envDefault:"#04B575"`
	// Sentences of context shown around the current one
	Context int `env:"READALOUD_CONTEXT" envDefault:"1"`

	// For debugging the UI
	AltScreen bool `env:"READALOUD_ALT_SCREEN" envDefault:"true"`
}
