package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel      string
	LogFormat     string
	LogFile       string
	DebugIngest   bool
	DebugKeyframe bool
	DebugPusher   bool
	DebugSession  bool
	DebugAll      bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugIngest, "debug-ingest", false,
		"Enable detailed UDP/RTP ingest debugging (sequence, timestamp, payload)")
	fs.BoolVar(&f.DebugKeyframe, "debug-keyframe", false,
		"Enable keyframe/GOP buffering debugging (NAL type, size, trims)")
	fs.BoolVar(&f.DebugPusher, "debug-pusher", false,
		"Enable per-client pusher state machine debugging")
	fs.BoolVar(&f.DebugSession, "debug-session", false,
		"Enable client session debugging (ICE, SDP, connection state)")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		if f.DebugIngest {
			cfg.EnableCategory(DebugIngest)
			cfg.Level = LevelDebug
		}
		if f.DebugKeyframe {
			cfg.EnableCategory(DebugKeyframe)
			cfg.Level = LevelDebug
		}
		if f.DebugPusher {
			cfg.EnableCategory(DebugPusher)
			cfg.Level = LevelDebug
		}
		if f.DebugSession {
			cfg.EnableCategory(DebugSession)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./gateway -config streams.json

  Enable DEBUG level:
    ./gateway -config streams.json --log-level debug
    ./gateway -config streams.json -l debug

  Log to file:
    ./gateway -config streams.json --log-file gateway.log
    ./gateway -config streams.json -o gateway.log

  JSON format for structured logging:
    ./gateway -config streams.json --log-format json -o gateway.json

  Debug ingest packets only:
    ./gateway -config streams.json --debug-ingest

  Debug keyframe/GOP buffering only:
    ./gateway -config streams.json --debug-keyframe

  Debug multiple categories:
    ./gateway -config streams.json --debug-ingest --debug-pusher --debug-session

  Debug everything:
    ./gateway -config streams.json --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./gateway -config streams.json -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugIngest {
			debugCategories = append(debugCategories, "ingest")
		}
		if f.DebugKeyframe {
			debugCategories = append(debugCategories, "keyframe")
		}
		if f.DebugPusher {
			debugCategories = append(debugCategories, "pusher")
		}
		if f.DebugSession {
			debugCategories = append(debugCategories, "session")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
