package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "snapshots/lobby/1700000000.json", ArchiveKey("lobby", time.Unix(1_700_000_000, 0)))
	assert.Equal(t, "snapshots/", roomPrefix(""))
	assert.Equal(t, "snapshots/lobby/", roomPrefix("lobby"))
}

func TestLatestPicksNewestTimestamp(t *testing.T) {
	objects := []ObjectInfo{
		{Key: "snapshots/lobby/900.json"},
		{Key: "snapshots/lobby/1000.json"},
		{Key: "snapshots/lobby/notes.txt"},
		{Key: "snapshots/lobby/99.json"},
	}
	key, ok := latest(objects)
	assert.True(t, ok)
	assert.Equal(t, "snapshots/lobby/1000.json", key)

	_, ok = latest([]ObjectInfo{{Key: "snapshots/lobby/readme"}})
	assert.False(t, ok)
	_, ok = latest(nil)
	assert.False(t, ok)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
}
