package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreSet(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, BuildTime)
	assert.NotEmpty(t, GitCommit)
}

func TestString(t *testing.T) {
	oldVersion, oldCommit, oldTime := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldVersion, oldCommit, oldTime })

	Version, GitCommit, BuildTime = "v1.4.0", "3f2c1ab", "2024-05-01T10:00:00Z"
	assert.Equal(t, "coursebuilder v1.4.0 (commit 3f2c1ab, built 2024-05-01T10:00:00Z)", String())
}
