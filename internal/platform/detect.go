package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using actual platform detection.
type RealDetector struct {
	goos   string
	goarch string
}

// NewDetector creates a detector for the running process.
func NewDetector() Detector {
	return &RealDetector{goos: runtime.GOOS, goarch: runtime.GOARCH}
}

// Detect uses GOOS and GOARCH for OS and architecture, and gopsutil for
// Linux distribution details. A failed distro lookup leaves the distro
// fields empty; a cancelled context is an error.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      d.goos,
		ArchRaw: d.goarch,
	}

	arch, err := normalizeArch(d.goarch)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	if d.goos != "linux" || d.goos != runtime.GOOS {
		return info, nil
	}

	platform, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	platform = normalizePlatform(platform)
	if platform != "" {
		info.Platform = platform
		info.Family = mapFamily(family)
		info.Version = normalizePlatform(version)
	}

	return info, nil
}

// HostTriple maps detected platform information to the release triple.
// Linux x86_64 uses the statically linked musl flavour, matching what
// upstream publishes for buck2.
func HostTriple(info *Info) (Triple, error) {
	if info == nil {
		return Triple{}, fmt.Errorf("platform info is required")
	}

	var arch string
	switch info.Arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	default:
		return Triple{}, fmt.Errorf("unsupported architecture: %s", info.Arch)
	}

	var target string
	switch info.OS {
	case "linux":
		if arch == "x86_64" {
			target = "x86_64-unknown-linux-musl"
		} else {
			target = "aarch64-unknown-linux-gnu"
		}
	case "darwin":
		target = arch + "-apple-darwin"
	case "windows":
		target = arch + "-pc-windows-msvc"
	default:
		return Triple{}, fmt.Errorf("unsupported OS/arch: %s/%s", info.OS, info.Arch)
	}

	return Triple{Arch: arch, OS: info.OS, Target: target}, nil
}

// OverrideTarget returns t with its full target replaced. The arch and OS
// components are re-derived from the override when it has the usual
// arch-vendor-os[-abi] shape.
func OverrideTarget(t Triple, target string) Triple {
	if target == "" {
		return t
	}
	out := Triple{Arch: t.Arch, OS: t.OS, Target: target}
	if arch, os, ok := splitTarget(target); ok {
		out.Arch = arch
		out.OS = os
	}
	return out
}
