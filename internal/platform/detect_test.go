package platform

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealDetector_Detect(t *testing.T) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skip("unsupported test architecture")
	}

	info, err := NewDetector().Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.ArchRaw)
	assert.Contains(t, []string{"amd64", "arm64"}, info.Arch)
	if info.Platform != "" {
		assert.NotEmpty(t, info.Family)
	}
}

func TestRealDetector_UnsupportedArch(t *testing.T) {
	d := &RealDetector{goos: "linux", goarch: "mips"}
	_, err := d.Detect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported architecture")
}

func TestRealDetector_ForeignOSSkipsDistro(t *testing.T) {
	d := &RealDetector{goos: "darwin", goarch: "arm64"}
	info, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "darwin", info.OS)
	assert.Equal(t, "arm64", info.Arch)
	assert.Empty(t, info.Platform)
}

func TestHostTriple(t *testing.T) {
	tests := []struct {
		name    string
		info    Info
		want    Triple
		wantErr bool
	}{
		{
			name: "linux_amd64",
			info: Info{OS: "linux", Arch: "amd64"},
			want: Triple{Arch: "x86_64", OS: "linux", Target: "x86_64-unknown-linux-musl"},
		},
		{
			name: "linux_arm64",
			info: Info{OS: "linux", Arch: "arm64"},
			want: Triple{Arch: "aarch64", OS: "linux", Target: "aarch64-unknown-linux-gnu"},
		},
		{
			name: "darwin_arm64",
			info: Info{OS: "darwin", Arch: "arm64"},
			want: Triple{Arch: "aarch64", OS: "darwin", Target: "aarch64-apple-darwin"},
		},
		{
			name: "windows_amd64",
			info: Info{OS: "windows", Arch: "amd64"},
			want: Triple{Arch: "x86_64", OS: "windows", Target: "x86_64-pc-windows-msvc"},
		},
		{
			name:    "freebsd",
			info:    Info{OS: "freebsd", Arch: "amd64"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HostTriple(&tt.info)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverrideTarget(t *testing.T) {
	base := Triple{Arch: "x86_64", OS: "linux", Target: "x86_64-unknown-linux-musl"}

	assert.Equal(t, base, OverrideTarget(base, ""))

	got := OverrideTarget(base, "x86_64-unknown-linux-gnu")
	assert.Equal(t, Triple{Arch: "x86_64", OS: "linux", Target: "x86_64-unknown-linux-gnu"}, got)

	got = OverrideTarget(base, "x86_64-linux")
	assert.Equal(t, "x86_64-linux", got.Target)
	assert.Equal(t, "x86_64", got.Arch)
	assert.Equal(t, "linux", got.OS)
}

func TestMapFamily(t *testing.T) {
	assert.Equal(t, FamilyDebian, mapFamily(" Ubuntu "))
	assert.Equal(t, FamilyRHEL, mapFamily("rocky"))
	assert.Equal(t, FamilyUnknown, mapFamily("plan9"))
}
