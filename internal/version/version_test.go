package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	defer func(v, sha, bt string) { Version, GitSHA, BuildTime = v, sha, bt }(Version, GitSHA, BuildTime)
	Version, GitSHA, BuildTime = "1.2.0", "abc123", "2026-06-21T09:00:00Z"

	assert.Equal(t, "raptorhab 1.2.0 (abc123, built 2026-06-21T09:00:00Z)", String())
	assert.Equal(t, "raptorhab-groundstation/1.2.0", UserAgent())
}
