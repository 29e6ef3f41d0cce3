package logger

// Output controls what categories of information are shown at each verbosity level.
//
// Unlike log levels (which filter by severity), output categories control
// WHAT types of information are displayed regardless of severity.
//
// Verbosity Levels:
//
//	0 (default) - User-facing output only: results, errors with hints, final status
//	1 (-v)      - + Progress, startup info, plugin status, operation summaries
//	2 (-vv)     - + Dependency resolution, timing, config loaded
//	3 (-vvv)    - + Plugin message traffic, event deliveries, reload triggers
//	4 (-vvvv)   - + Full message/event payload dumps

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	// Level 0 (default) - Always shown
	OutputResults    OutputCategory = iota // Command output
	OutputErrors                           // Errors with hints and resolution steps
	OutputUserStatus                       // Final success/failure status

	// Level 1 (-v) - Informational
	OutputProgress      // Progress indicators (e.g., "Loading 3/7 plugins")
	OutputStartup       // Startup banners, config summary
	OutputPluginStatus  // Plugin loaded/unloaded/state changes
	OutputOperationInfo // High-level operation summaries

	// Level 2 (-vv) - Detailed
	OutputDependencies // Dependency resolution order and conflicts
	OutputTiming       // Operation timing (e.g., "load took 42ms")
	OutputConfig       // Config values loaded/applied

	// Level 3 (-vvv) - Debug
	OutputMessages // Plugin message traffic summaries
	OutputEvents   // Event bus deliveries
	OutputReloads  // Hot reload triggers and debounce decisions

	// Level 4 (-vvvv) - Full dump
	OutputPayloads // Full message/event payload contents
	OutputDataDump // Full data structure contents
)

// categoryLevels maps each output category to its minimum verbosity level
var categoryLevels = map[OutputCategory]int{
	// Level 0 - Always shown
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	// Level 1 - Informational
	OutputProgress:      VerbosityInfo,
	OutputStartup:       VerbosityInfo,
	OutputPluginStatus:  VerbosityInfo,
	OutputOperationInfo: VerbosityInfo,

	// Level 2 - Detailed
	OutputDependencies: VerbosityDebug,
	OutputTiming:       VerbosityDebug,
	OutputConfig:       VerbosityDebug,

	// Level 3 - Debug
	OutputMessages: VerbosityTrace,
	OutputEvents:   VerbosityTrace,
	OutputReloads:  VerbosityTrace,

	// Level 4 - Full dump
	OutputPayloads: VerbosityAll,
	OutputDataDump: VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		// Unknown category, default to highest verbosity required
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

// categoryNames provides human-readable names for output categories
var categoryNames = map[OutputCategory]string{
	OutputResults:       "results",
	OutputErrors:        "errors",
	OutputUserStatus:    "status",
	OutputProgress:      "progress",
	OutputStartup:       "startup",
	OutputPluginStatus:  "plugin-status",
	OutputOperationInfo: "operation-info",
	OutputDependencies:  "dependencies",
	OutputTiming:        "timing",
	OutputConfig:        "config",
	OutputMessages:      "messages",
	OutputEvents:        "events",
	OutputReloads:       "reloads",
	OutputPayloads:      "payloads",
	OutputDataDump:      "data-dump",
}

// CategoryName returns the human-readable name for an output category
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}

// EnabledCategories returns all output categories enabled at the given verbosity
func EnabledCategories(verbosity int) []OutputCategory {
	var enabled []OutputCategory
	for cat, minLevel := range categoryLevels {
		if verbosity >= minLevel {
			enabled = append(enabled, cat)
		}
	}
	return enabled
}

// VerbosityDescription returns a description of what's shown at each level
func VerbosityDescription(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "results and errors only"
	case VerbosityInfo:
		return "results, errors, progress, and status"
	case VerbosityDebug:
		return "above + dependencies, timing, config details"
	case VerbosityTrace:
		return "above + message traffic, events, reload triggers"
	case VerbosityAll:
		return "full output including payload dumps"
	default:
		if verbosity > VerbosityAll {
			return "maximum verbosity"
		}
		return "unknown verbosity level"
	}
}
