package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the global logger exactly once. Level is one of
// zerolog's level strings; an empty or unparsable value means info.
func Configure(level string, output io.Writer) {
	once.Do(func() {
		lvl := zerolog.InfoLevel
		if level != "" {
			if parsed, err := zerolog.ParseLevel(level); err == nil {
				lvl = parsed
			}
		}
		zerolog.SetGlobalLevel(lvl)
		zerolog.TimeFieldFormat = time.RFC3339

		if output == nil {
			output = os.Stdout
		}
		base = zerolog.New(output).With().
			Timestamp().
			Str("service", "radio-recorder").
			Logger()
	})
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	Configure("", nil)
	return base.With().Str("component", component).Logger()
}
