package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	assert.Equal(t, "1.2.0 (abcdef1)", Info{Version: "1.2.0", Commit: "abcdef1234567"}.String())
	assert.Equal(t, "1.2.0 (abc)", Info{Version: "1.2.0", Commit: "abc"}.String())
	assert.Equal(t, "dev", Info{Version: "dev"}.String())
}

func TestGetReportsGoVersion(t *testing.T) {
	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "asset-relay/"+Version, UserAgent())
}
