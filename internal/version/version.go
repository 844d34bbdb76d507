// Package version identifies a reqshield build and the running instance.
// Build values are set with -ldflags "-X reqshield/internal/version.Version=...".
package version

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
)

// product is the token reqshield uses in User-Agent and Via headers.
const product = "reqshield"

var (
	Version   = "unknown"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info holds build metadata and the identity of the running instance. The
// instance id distinguishes replicas that share a snapshot backend.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the build metadata. The instance id is generated once per
// process.
func GetInfo() Info {
	once.Do(func() {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname,
		}
	})
	return info
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("%s version %s (commit: %s, built: %s)", product, i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent is sent by the health probe so its requests are recognisable in
// upstream logs.
func (i Info) UserAgent() string {
	return product + "/" + i.Version
}

// Via is the Via header entry added to proxied requests for the given
// inbound protocol version. It carries no build version.
func (i Info) Via(protoMajor, protoMinor int) string {
	return fmt.Sprintf("%d.%d %s", protoMajor, protoMinor, product)
}

// LogAttrs are the fields attached to every log record.
func (i Info) LogAttrs() []any {
	return []any{
		slog.String("version", i.Version),
		slog.String("git_commit", i.GitCommit),
		slog.String("instance_id", i.InstanceID),
	}
}
