package version

import (
	"fmt"
	"strings"
)

const (
	snapshotString = "snapshot"
	devVersion     = "development"
	productName    = "linkstorm"
)

var (
	// Build time injected information, see the ldflags in the release workflow.
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
)

// Info is a snapshot of the build information baked into the binary.
type Info struct {
	Version    string
	CommitHash string
	BuildTime  string
	Prerelease string
	Snapshot   string
	OS         string
	Arch       string
	Branch     string
}

// Current returns the injected build information.
func Current() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Prerelease: Prerelease,
		Snapshot:   Snapshot,
		OS:         OS,
		Arch:       Arch,
		Branch:     Branch,
	}
}

// GetVersion returns the version information in a human consumable way. It is shown by the version command
// and sent as part of the User-Agent.
func GetVersion() string {
	return Current().String()
}

// UserAgent is the value of the User-Agent header sent with every request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", productName, GetVersion())
}

func (i Info) String() string {
	version := i.Version
	if version == "" {
		version = devVersion
	}
	var b strings.Builder
	b.WriteString(version)
	if i.CommitHash != "" {
		fmt.Fprintf(&b, "(%s)", i.CommitHash)
	}

	if i.Prerelease != "" {
		fmt.Fprintf(&b, "-%s", i.Prerelease)
	} else if i.Snapshot == "true" {
		fmt.Fprintf(&b, "-%s", snapshotString)
	}

	if i.Branch != "" && i.Branch != "main" && i.Branch != "HEAD" {
		fmt.Fprintf(&b, "[%s]", i.Branch)
	}

	switch {
	case i.OS != "" && i.Arch != "":
		fmt.Fprintf(&b, "/%s-%s", i.OS, i.Arch)
	case i.OS != "":
		fmt.Fprintf(&b, "/%s", i.OS)
	}
	return b.String()
}
