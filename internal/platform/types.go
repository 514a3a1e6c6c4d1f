// Package platform detects the host the launcher runs on and turns it into
// the host triple used to pick release archives.
//
// Distribution details on Linux come from gopsutil and are informational:
// they are exposed to Lua project files and logged, but never change the
// triple.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64" (normalized)
	ArchRaw  string // original GOARCH
	Platform string // distro ID (Linux only, e.g., "ubuntu")
	Family   string // canonical family (e.g., "debian")
	Version  string // distro version (Linux only, e.g., "22.04")
}

// Triple identifies a release flavour: the architecture and OS components
// plus the full target string used in archive names.
type Triple struct {
	Arch   string // "x86_64", "aarch64"
	OS     string // "linux", "darwin", "windows"
	Target string // e.g. "x86_64-unknown-linux-musl"
}

// String returns the full target.
func (t Triple) String() string {
	return t.Target
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// IsAMD64 returns true if the architecture is amd64.
func (i *Info) IsAMD64() bool {
	return i.Arch == "amd64"
}

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool {
	return i.Arch == "arm64"
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
