package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollArchiveKey(t *testing.T) {
	assert.Equal(t, "archives/polls/6f1c.json", PollArchiveKey("6f1c"))
}

func TestPresignExpire(t *testing.T) {
	assert.Equal(t, 15*time.Minute, (&S3{}).PresignExpire())
	assert.Equal(t, 5*time.Minute, (&S3{cfg: S3Config{PresignExpireMinutes: 5}}).PresignExpire())
}
