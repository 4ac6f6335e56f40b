/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

// Package libinfo provides build information about the go-gatewaykit library itself.
package libinfo

import (
	"debug/buildinfo"
	"regexp"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const libShortName = "go-gatewaykit"

const moduleName = "github.com/cartlabs/" + libShortName

// PrometheusLibVersionLabel is the name of the const label that carries
// the go-gatewaykit version on metrics registered by the library.
const PrometheusLibVersionLabel = "go_gatewaykit_version"

// AddPrometheusLibVersionLabel returns a copy of labels extended with the library version label.
func AddPrometheusLibVersionLabel(labels prometheus.Labels) prometheus.Labels {
	labelsCopy := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		labelsCopy[k] = v
	}
	labelsCopy[PrometheusLibVersionLabel] = GetLibVersion()
	return labelsCopy
}

var libVersion string
var libVersionOnce sync.Once

// GetLibVersion returns the go-gatewaykit module version from the binary's build info,
// or "v0.0.0" when the library is not used as a module dependency.
func GetLibVersion() string {
	libVersionOnce.Do(func() {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			libVersion = extractLibVersion(buildInfo, moduleName)
		}
		if libVersion == "" {
			libVersion = "v0.0.0"
		}
	})
	return libVersion
}

// extractLibVersion finds the version of modName among the build dependencies.
// Major-versioned module paths ("modName/vN") are matched as well.
func extractLibVersion(buildInfo *buildinfo.BuildInfo, modName string) string {
	if buildInfo == nil {
		return ""
	}
	re, err := regexp.Compile(`^` + regexp.QuoteMeta(modName) + `(/v[0-9]+)?$`)
	if err != nil {
		return "" // should never happen
	}
	for _, dep := range buildInfo.Deps {
		if re.MatchString(dep.Path) {
			return dep.Version
		}
	}
	return ""
}
