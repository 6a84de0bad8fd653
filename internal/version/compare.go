package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckVersionCompatibility checks if the engine and a strategy plugin ABI
// version are compatible. Returns nil if compatible, error with details if not.
//
// Compatibility Rules:
//   - If either version is "main" (development build), compatibility check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 is compatible with 1.2.5)
func CheckVersionCompatibility(engineVersion, pluginVersion string) error {
	// Strip 'v' prefix if present for consistency
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	pluginVersion = strings.TrimPrefix(pluginVersion, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" || pluginVersion == "main" {
		return nil
	}

	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	pluginSemver, err := semver.NewVersion(pluginVersion)
	if err != nil {
		return fmt.Errorf("invalid plugin version '%s': %w", pluginVersion, err)
	}

	if engineSemver.Major() != pluginSemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but strategy requires %d.x.x",
			engineSemver.Major(), pluginSemver.Major())
	}

	if engineSemver.Minor() != pluginSemver.Minor() {
		return fmt.Errorf("minor version mismatch: engine is %d.%d.x but strategy requires %d.%d.x",
			engineSemver.Major(), engineSemver.Minor(),
			pluginSemver.Major(), pluginSemver.Minor())
	}

	// Patch versions can differ, so we're compatible
	return nil
}
