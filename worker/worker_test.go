package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aksel-berge/tubcrawl"
)

func TestLooksLikeEmptyShell(t *testing.T) {
	assert.True(t, looksLikeEmptyShell("<html><head></head></html>"))
	assert.True(t, looksLikeEmptyShell("<html><body></body></html>"))
	assert.False(t, looksLikeEmptyShell("<html><body>"+strRepeat("content ", 40)+"</body></html>"))
}

func TestIsRetryableStatus(t *testing.T) {
	tubcrawl.SetDefaultConfig()
	assert.True(t, isRetryableStatus(503))
	assert.False(t, isRetryableStatus(200))
	assert.False(t, isRetryableStatus(404))
}

func strRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
