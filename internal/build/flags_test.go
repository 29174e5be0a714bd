// SPDX-License-Identifier: MIT
package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setFlags(t *testing.T, name, time, commit, version string) {
	t.Helper()
	origName, origTime, origCommit, origVersion, origInfo := buildName, buildTime, buildCommit, buildVersion, info
	t.Cleanup(func() {
		buildName, buildTime, buildCommit, buildVersion, info = origName, origTime, origCommit, origVersion, origInfo
	})
	buildName, buildTime, buildCommit, buildVersion = name, time, commit, version
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantErr     string
		want        Info
	}{
		{
			name:        "missing version keeps dev",
			buildName:   "circlights",
			buildTime:   "2026-10-01",
			buildCommit: "abcdef1",
			wantErr:     "buildVersion",
			want:        Info{Name: "circlights", Time: "2026-10-01", Commit: "abcdef1", Version: "dev"},
		},
		{
			name:    "nothing injected",
			wantErr: "buildName, buildTime, buildCommit, buildVersion",
			want:    Info{Name: "circlights", Time: "unknown", Commit: "unknown", Version: "dev"},
		},
		{
			name:        "all injected",
			buildName:   "lights",
			buildTime:   "2026-10-01",
			buildCommit: "abcdef1",
			buildVer:    "v1.2.0",
			want:        Info{Name: "lights", Time: "2026-10-01", Commit: "abcdef1", Version: "v1.2.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(t, tt.buildName, tt.buildTime, tt.buildCommit, tt.buildVer)

			err := Initialize()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			got := Get()
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Time, got.Time)
			assert.Equal(t, tt.want.Commit, got.Commit)
			assert.Equal(t, tt.want.Version, got.Version)
			assert.NotEmpty(t, got.Description)
		})
	}
}

func TestInfoString(t *testing.T) {
	i := Info{Name: "circlights", Version: "v1", Commit: "abc", Time: "today"}
	assert.Equal(t, "circlights v1 (commit abc, built today)", i.String())
}
