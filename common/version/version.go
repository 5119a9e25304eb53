// Package version carries build information injected at link time:
//
//	go build -ldflags "-X github.com/bdobrica/kioku/common/version.Version=v1.2.0 \
//	    -X github.com/bdobrica/kioku/common/version.GitCommit=$(git rev-parse --short HEAD) \
//	    -X github.com/bdobrica/kioku/common/version.BuildTime=$(date -u +%FT%TZ)"
package version

import (
	"fmt"
	"runtime"
)

// Link-time variables. Unset values keep their development placeholders.
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info renders the build as "v1.2.0 (abc1234, 2026-01-02T03:04:05Z, go1.25.8)".
func Info() string {
	return fmt.Sprintf("%s (%s, %s, %s)", Version, GitCommit, BuildTime, runtime.Version())
}
