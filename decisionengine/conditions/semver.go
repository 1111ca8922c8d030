package conditions

import (
	"strings"

	"github.com/blang/semver/v4"
)

// compareVersions compares a user version against a target version the way
// the targeting UI expects: the comparison is truncated to the numeric
// components the target specifies, so target "2.1" matches any user "2.1.x".
// A pre-release version sorts before its release at the same core. Returns
// nil when either side does not parse.
func compareVersions(user, target string) *int {
	if strings.ContainsAny(user, " ") || strings.ContainsAny(target, " ") {
		return nil
	}
	userVersion, err := semver.ParseTolerant(user)
	if err != nil {
		return nil
	}
	targetVersion, err := semver.ParseTolerant(target)
	if err != nil {
		return nil
	}

	precision := versionPrecision(target)

	if cmp := compareUint(userVersion.Major, targetVersion.Major); cmp != 0 {
		return intPtr(cmp)
	}
	if precision > 1 {
		if cmp := compareUint(userVersion.Minor, targetVersion.Minor); cmp != 0 {
			return intPtr(cmp)
		}
	}
	if precision > 2 {
		if cmp := compareUint(userVersion.Patch, targetVersion.Patch); cmp != 0 {
			return intPtr(cmp)
		}
	}

	switch {
	case len(targetVersion.Pre) > 0 && len(userVersion.Pre) == 0:
		return intPtr(1)
	case len(targetVersion.Pre) > 0 && len(userVersion.Pre) > 0:
		return intPtr(comparePreRelease(userVersion.Pre, targetVersion.Pre))
	case len(userVersion.Pre) > 0 && precision == 3:
		// User is on a pre-release of the exact version targeted.
		return intPtr(-1)
	default:
		return intPtr(0)
	}
}

// versionPrecision counts the numeric components in the target's core
// (major[.minor[.patch]]), capped at 3.
func versionPrecision(version string) int {
	core := version
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	n := strings.Count(core, ".") + 1
	if n > 3 {
		n = 3
	}
	return n
}

func comparePreRelease(user, target []semver.PRVersion) int {
	for i := 0; i < len(user) && i < len(target); i++ {
		if cmp := user[i].Compare(target[i]); cmp != 0 {
			return cmp
		}
	}
	switch {
	case len(user) < len(target):
		return -1
	case len(user) > len(target):
		return 1
	default:
		return 0
	}
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func intPtr(i int) *int {
	return &i
}
