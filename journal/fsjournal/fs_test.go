package fsjournal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/Moonsong-Labs/storage-hub-sub006/build"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal"
)

func withMockClock(t *testing.T) *clock.Mock {
	mc := clock.NewMock()
	prev := build.Clock
	build.Clock = mc
	t.Cleanup(func() { build.Clock = prev })
	return mc
}

func TestRollingRemovesOldFiles(t *testing.T) {
	req := require.New(t)
	mc := withMockClock(t)

	dir := t.TempDir()
	j, err := openFSJournal(dir, nil, 1<<20, 3)
	req.NoError(err)
	defer func() { _ = j.fi.Close() }()

	et := j.RegisterEventType("fisherman", "cycle")
	for i := 0; i <= j.keep+1; i++ {
		mc.Add(time.Second)
		req.NoError(j.putEvent(&journal.Event{EventType: et, Timestamp: mc.Now(), Data: i}))
		req.NoError(j.rollJournalFile())
	}

	files, err := os.ReadDir(dir)
	req.NoError(err)
	// the current file plus the kept rolled ones
	req.Lenf(files, j.keep+1, "files are not being pruned from the journal directory")
}

func TestRecordsEventsAsNDJSON(t *testing.T) {
	req := require.New(t)
	withMockClock(t)

	dir := t.TempDir()
	jr, err := OpenFSJournal(dir, journal.DisabledEvents{{System: "fisherman", Event: "noisy"}})
	req.NoError(err)

	on := jr.RegisterEventType("fisherman", "batch")
	off := jr.RegisterEventType("fisherman", "noisy")
	req.False(off.Enabled())

	jr.RecordEvent(on, func() interface{} { return map[string]int{"keys": 2} })
	jr.RecordEvent(off, func() interface{} {
		t.Fatal("disabled supplier called")
		return nil
	})
	jr.RecordEvent(on, func() interface{} { panic("boom") })
	req.NoError(jr.Close())

	f, err := os.Open(filepath.Join(dir, currentName))
	req.NoError(err)
	defer f.Close() //nolint:errcheck

	var lines []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		req.NoError(json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	req.Len(lines, 1)
	req.Equal("fisherman", lines[0]["System"])
	req.Equal("batch", lines[0]["Event"])
	req.Equal(map[string]interface{}{"keys": float64(2)}, lines[0]["Data"])
}
