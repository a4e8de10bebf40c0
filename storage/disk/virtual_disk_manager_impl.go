package disk

import (
	"strings"
	"sync"

	"github.com/dsnet/golib/memfile"
	"github.com/kawasemidb/kawasemi/common"
	"github.com/kawasemidb/kawasemi/types"
)

// VirtualDiskManagerImpl is an on-memory implementation of DiskManager.
// It keeps the db and log "files" on memfile buffers, which makes tests
// which spawn many pool instances cheap and leaves nothing to clean up.
type VirtualDiskManagerImpl struct {
	db             *memfile.File
	fileName       string
	log            *memfile.File
	fileNameLog    string
	nextPageID     types.PageID
	numWrites      uint64
	numFlushes     uint64
	size           int64
	logSize        int64
	deallocedIDMap map[types.PageID]bool
	dbFileMutex    *sync.Mutex
	logFileMutex   *sync.Mutex
}

func NewVirtualDiskManagerImpl(dbFilename string) DiskManager {
	file := memfile.New(make([]byte, 0))
	logFile := memfile.New(make([]byte, 0))

	periodIdx := strings.LastIndex(dbFilename, ".")
	logfname := dbFilename[:periodIdx] + "." + "log"

	return &VirtualDiskManagerImpl{file, dbFilename, logFile, logfname, types.PageID(0), 0, 0, 0, 0, make(map[types.PageID]bool), new(sync.Mutex), new(sync.Mutex)}
}

// ShutDown does nothing. the backing buffers simply become garbage
func (d *VirtualDiskManagerImpl) ShutDown() {}

// WritePage writes a page to the db buffer
func (d *VirtualDiskManagerImpl) WritePage(pageID types.PageID, pageData []byte) error {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	offset := int64(pageID) * int64(common.PageSize)
	d.db.WriteAt(pageData, offset)

	if offset >= d.size {
		d.size = offset + int64(len(pageData))
	}
	d.numWrites++

	return nil
}

// ReadPage reads a page from the db buffer
func (d *VirtualDiskManagerImpl) ReadPage(pageID types.PageID, pageData []byte) error {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	if _, exist := d.deallocedIDMap[pageID]; exist {
		return types.DeallocatedPageErr
	}

	offset := int64(pageID) * int64(common.PageSize)
	if offset >= d.size || offset+int64(len(pageData)) > d.size {
		return ErrPastEOF
	}

	if _, err := d.db.ReadAt(pageData, offset); err != nil {
		return ErrReadFailed
	}
	return nil
}

// AllocatePage returns a fresh, never used page id. Deallocated ids become
// allocatable again.
func (d *VirtualDiskManagerImpl) AllocatePage() types.PageID {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	for pageID := range d.deallocedIDMap {
		delete(d.deallocedIDMap, pageID)
		return pageID
	}

	ret := d.nextPageID
	d.nextPageID++
	return ret
}

// DeallocatePage marks a page id as reclaimable. idempotent
func (d *VirtualDiskManagerImpl) DeallocatePage(pageID types.PageID) {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	d.deallocedIDMap[pageID] = true
}

// GetNumWrites returns the number of page writes
func (d *VirtualDiskManagerImpl) GetNumWrites() uint64 {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()
	return d.numWrites
}

// Size returns the size of the db buffer
func (d *VirtualDiskManagerImpl) Size() int64 {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()
	return d.size
}

func (d *VirtualDiskManagerImpl) RemoveDBFile() {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	d.db = memfile.New(make([]byte, 0))
	d.size = 0
	d.nextPageID = types.PageID(0)
	d.deallocedIDMap = make(map[types.PageID]bool)
}

func (d *VirtualDiskManagerImpl) RemoveLogFile() {
	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()

	d.log = memfile.New(make([]byte, 0))
	d.logSize = 0
}

// WriteLog appends log data to the log buffer
func (d *VirtualDiskManagerImpl) WriteLog(logData []byte) error {
	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()

	d.numFlushes++
	d.log.WriteAt(logData, d.logSize)
	d.logSize += int64(len(logData))

	return nil
}

// ReadLog reads up to len(logData) bytes of the log from offset
func (d *VirtualDiskManagerImpl) ReadLog(logData []byte, offset int32, retReadBytes *uint32) bool {
	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()

	if int64(offset) >= d.logSize {
		return false
	}

	readBytes, _ := d.log.ReadAt(logData, int64(offset))
	*retReadBytes = uint32(readBytes)

	return true
}

// GetLogFileSize returns current size of the log buffer
func (d *VirtualDiskManagerImpl) GetLogFileSize() int64 {
	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()
	return d.logSize
}
