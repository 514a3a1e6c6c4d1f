package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestInjectPlatformTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	info := &Info{OS: "linux", Arch: "amd64", ArchRaw: "amd64", Platform: "ubuntu", Family: "debian", Version: "22.04"}
	triple := Triple{Arch: "x86_64", OS: "linux", Target: "x86_64-unknown-linux-musl"}
	require.NoError(t, InjectPlatformTable(L, info, triple))

	tests := []struct {
		code string
		want lua.LValue
	}{
		{`return platform.os`, lua.LString("linux")},
		{`return platform.target`, lua.LString("x86_64-unknown-linux-musl")},
		{`return platform.is_linux`, lua.LTrue},
		{`return platform.is_arm64`, lua.LFalse},
		{`return platform.distro.family`, lua.LString("debian")},
		{`return platform.when(platform.is_linux, "yes")`, lua.LString("yes")},
		{`return platform.when(platform.is_macos, "yes")`, lua.LNil},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			require.NoError(t, L.DoString(tt.code))
			got := L.Get(-1)
			L.Pop(1)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInjectPlatformTable_ReadOnly(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.NoError(t, InjectPlatformTable(L, &Info{OS: "darwin", Arch: "arm64"}, Triple{Target: "aarch64-apple-darwin"}))

	err := L.DoString(`platform.os = "windows"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")

	require.NoError(t, L.DoString(`return platform.distro`))
	assert.Equal(t, lua.LNil, L.Get(-1))
}
