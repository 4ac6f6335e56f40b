/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package libinfo

import (
	"debug/buildinfo"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractLibVersion(t *testing.T) {
	tests := []struct {
		name      string
		buildInfo *buildinfo.BuildInfo
		wantVer   string
	}{
		{
			name: "module found",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{{Path: moduleName, Version: "v1.2.3"}},
			},
			wantVer: "v1.2.3",
		},
		{
			name: "major-versioned module path",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{{Path: moduleName + "/v2", Version: "v2.0.0"}},
			},
			wantVer: "v2.0.0",
		},
		{
			name: "module not found",
			buildInfo: &buildinfo.BuildInfo{
				Deps: []*debug.Module{{Path: "github.com/other/module", Version: "v1.0.0"}},
			},
			wantVer: "",
		},
		{
			name:      "nil build info",
			buildInfo: nil,
			wantVer:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantVer, extractLibVersion(tt.buildInfo, moduleName))
		})
	}
}

func TestAddPrometheusLibVersionLabel(t *testing.T) {
	labels := map[string]string{"service": "storefront"}
	got := AddPrometheusLibVersionLabel(labels)
	require.Equal(t, "storefront", got["service"])
	require.NotEmpty(t, got[PrometheusLibVersionLabel])
	require.NotContains(t, labels, PrometheusLibVersionLabel)
}
