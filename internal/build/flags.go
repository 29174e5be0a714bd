// SPDX-License-Identifier: MIT

// Package build exposes metadata injected at link time, for example:
//
//	go build -ldflags "-X circlights/internal/build.buildVersion=0.3.0 -X circlights/internal/build.buildCommit=$(git rev-parse --short HEAD)"
//
// Values that were not injected keep development defaults so a plain
// go build still runs.
package build

import (
	"fmt"
	"strings"
)

// Info describes the running binary.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Time        string `json:"time"`
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

func defaults() Info {
	return Info{
		Name:        "circlights",
		Description: "Audio-reactive LED strip controller for WLED devices",
		Version:     "dev",
		Commit:      "unknown",
		Time:        "unknown",
	}
}

var info = defaults()

// Initialize copies the injected values over the defaults. The returned
// error names the values that were not injected; the defaults stay in
// place for those.
func Initialize() error {
	info = defaults()
	var missing []string
	set := func(dst *string, v, flag string) {
		if v == "" {
			missing = append(missing, flag)
			return
		}
		*dst = v
	}
	set(&info.Name, buildName, "buildName")
	set(&info.Time, buildTime, "buildTime")
	set(&info.Commit, buildCommit, "buildCommit")
	set(&info.Version, buildVersion, "buildVersion")
	if len(missing) > 0 {
		return fmt.Errorf("build flags not injected: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Get returns the build information.
func Get() Info {
	return info
}
