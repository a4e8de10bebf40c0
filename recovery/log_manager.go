// this code is based on https://github.com/brunocalza/go-bustub

package recovery

import (
	"github.com/kawasemidb/kawasemi/common"
	"github.com/kawasemidb/kawasemi/storage/disk"
	"github.com/kawasemidb/kawasemi/types"
)

/**
 * LogManager buffers appended log records and writes them out through the disk manager's log file. The buffer pool
 * manager flushes it before every dirty page write-back so that no page whose updates are not yet logged reaches
 * the db file.
 */
type LogManager struct {
	offset uint32
	// lsn of the last record appended to the log buffer
	logBufferLSN types.LSN
	/** The counter which records the next log sequence number. */
	nextLSN types.LSN
	/** The log records before and including the persistent lsn have been written to disk. */
	persistentLSN types.LSN
	logBuffer     []byte
	flushBuffer   []byte
	latch         common.ReaderWriterLatch
	diskManager   disk.DiskManager
}

func NewLogManager(diskManager disk.DiskManager) *LogManager {
	ret := new(LogManager)
	ret.nextLSN = 0
	ret.logBufferLSN = common.InvalidLSN
	ret.persistentLSN = common.InvalidLSN
	ret.diskManager = diskManager
	ret.logBuffer = make([]byte, common.LogBufferSize)
	ret.flushBuffer = make([]byte, common.LogBufferSize)
	ret.latch = common.NewRWLatch()
	ret.offset = 0
	return ret
}

func (l *LogManager) GetNextLSN() types.LSN       { return l.nextLSN }
func (l *LogManager) GetPersistentLSN() types.LSN { return l.persistentLSN }

// Flush writes the buffered log records out through the disk manager and
// advances the persistent lsn. records appended after the internal buffer
// swap go to the next flush.
func (l *LogManager) Flush() {
	l.latch.WLock()

	lsn := l.logBufferLSN
	offset := l.offset
	l.offset = 0

	// swap the two buffers so that appends can go on while writing
	tmp := l.flushBuffer
	l.flushBuffer = l.logBuffer
	l.logBuffer = tmp

	l.latch.WUnlock()

	if offset == 0 {
		return
	}

	l.diskManager.WriteLog(l.flushBuffer[:offset])
	l.persistentLSN = lsn
}

// AppendRecord copies a serialized log record into the log buffer and
// assigns its lsn. A record which does not fit in the remaining buffer
// space forces a flush first.
func (l *LogManager) AppendRecord(record []byte) types.LSN {
	if uint32(len(record)) > uint32(common.LogBufferSize) {
		return common.InvalidLSN
	}

	l.latch.WLock()
	for l.offset+uint32(len(record)) > uint32(common.LogBufferSize) {
		l.latch.WUnlock()
		l.Flush()
		l.latch.WLock()
	}

	lsn := l.nextLSN
	l.nextLSN++

	copy(l.logBuffer[l.offset:], record)
	l.offset += uint32(len(record))
	l.logBufferLSN = lsn

	l.latch.WUnlock()
	return lsn
}
