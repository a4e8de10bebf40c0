// this code is based on https://github.com/brunocalza/go-bustub

package disk

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/kawasemidb/kawasemi/common"
	"github.com/kawasemidb/kawasemi/errors"
	"github.com/kawasemidb/kawasemi/types"
)

const (
	ErrSeekFailed  = errors.Error("seek in db file failed")
	ErrWriteFailed = errors.Error("write to db file failed")
	ErrShortWrite  = errors.Error("bytes written not equals page size")
	ErrPastEOF     = errors.Error("I/O error past end of file")
	ErrReadFailed  = errors.Error("I/O error while reading")
)

// DiskManagerImpl is the disk implementation of DiskManager
type DiskManagerImpl struct {
	db           *os.File
	fileName     string
	log          *os.File
	fileNameLog  string
	nextPageID   types.PageID
	numWrites    uint64
	numFlushes   uint64
	size         int64
	dbFileMutex  *sync.Mutex
	logFileMutex *sync.Mutex
}

// NewDiskManagerImpl returns a DiskManager instance backed by dbFilename and
// a companion ".log" file derived from it
func NewDiskManagerImpl(dbFilename string) DiskManager {
	file, err := os.OpenFile(dbFilename, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		log.Fatalln("can't open db file")
		return nil
	}

	periodIdx := strings.LastIndex(dbFilename, ".")
	logfname := dbFilename[:periodIdx] + "." + "log"
	logFile, err := os.OpenFile(logfname, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		log.Fatalln("can't open log file")
		return nil
	}

	fileInfo, err := file.Stat()
	if err != nil {
		log.Fatalln("file info error")
		return nil
	}

	logFileInfo, err := logFile.Stat()
	if err != nil {
		log.Fatalln("file info error (log file)")
		return nil
	}

	logFile.Seek(logFileInfo.Size(), io.SeekStart)

	fileSize := fileInfo.Size()
	nextPageID := types.PageID(fileSize / common.PageSize)

	return &DiskManagerImpl{file, dbFilename, logFile, logfname, nextPageID, 0, 0, fileSize, new(sync.Mutex), new(sync.Mutex)}
}

// ShutDown closes the database and log files
func (d *DiskManagerImpl) ShutDown() {
	d.dbFileMutex.Lock()
	if err := d.db.Close(); err != nil {
		panic("close of db file failed")
	}
	d.dbFileMutex.Unlock()

	d.logFileMutex.Lock()
	if err := d.log.Close(); err != nil {
		panic("close of log file failed")
	}
	d.logFileMutex.Unlock()
}

// WritePage writes a page to the database file
func (d *DiskManagerImpl) WritePage(pageID types.PageID, pageData []byte) error {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	offset := int64(pageID) * int64(common.PageSize)
	if _, err := d.db.Seek(offset, io.SeekStart); err != nil {
		return ErrSeekFailed
	}
	bytesWritten, err := d.db.Write(pageData)
	if err != nil {
		return ErrWriteFailed
	}
	if bytesWritten != common.PageSize {
		return ErrShortWrite
	}

	if offset >= d.size {
		d.size = offset + int64(bytesWritten)
	}
	d.numWrites++

	d.db.Sync()
	return nil
}

// ReadPage reads a page from the database file
func (d *DiskManagerImpl) ReadPage(pageID types.PageID, pageData []byte) error {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	offset := int64(pageID) * int64(common.PageSize)

	fileInfo, err := d.db.Stat()
	if err != nil {
		return ErrReadFailed
	}

	if offset >= fileInfo.Size() {
		return ErrPastEOF
	}

	d.db.Seek(offset, io.SeekStart)

	bytesRead, err := d.db.Read(pageData)
	if err != nil {
		return ErrReadFailed
	}

	// a page at the file tail may be shorter than PageSize. the rest reads as zeroes
	if bytesRead < common.PageSize {
		for i := bytesRead; i < common.PageSize; i++ {
			pageData[i] = 0
		}
	}
	return nil
}

// AllocatePage returns a fresh, never used page id
func (d *DiskManagerImpl) AllocatePage() types.PageID {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	ret := d.nextPageID
	d.nextPageID++
	return ret
}

// DeallocatePage marks a page id as reclaimable
// Needs a bitmap in a header page for tracking deallocated pages.
// This does not actually need to do anything for now.
func (d *DiskManagerImpl) DeallocatePage(pageID types.PageID) {}

// GetNumWrites returns the number of disk writes
func (d *DiskManagerImpl) GetNumWrites() uint64 {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()
	return d.numWrites
}

// Size returns the size of the db file in disk
func (d *DiskManagerImpl) Size() int64 {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()
	return d.size
}

// ATTENTION: this method can be called only after calling of ShutDown method
func (d *DiskManagerImpl) RemoveDBFile() {
	d.dbFileMutex.Lock()
	defer d.dbFileMutex.Unlock()

	if err := os.Remove(d.fileName); err != nil {
		panic("db file remove failed")
	}
}

// ATTENTION: this method can be called only after calling of ShutDown method
func (d *DiskManagerImpl) RemoveLogFile() {
	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()

	if err := os.Remove(d.fileNameLog); err != nil {
		panic("log file remove failed")
	}
}

/**
 * Write the contents of the log into the disk file
 * Only returns when sync is done, and only performs sequential write
 */
func (d *DiskManagerImpl) WriteLog(logData []byte) error {
	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()

	d.numFlushes++
	if _, err := d.log.Write(logData); err != nil {
		return err
	}

	// needs to flush to keep disk file in sync
	d.log.Sync()
	return nil
}

/**
 * Read the contents of the log into the given memory area
 * Always reads from offset and performs sequential read
 * @return: false means already reached the end
 */
// Attention: len(logData) specifies read data length
func (d *DiskManagerImpl) ReadLog(logData []byte, offset int32, retReadBytes *uint32) bool {
	if int64(offset) >= d.GetLogFileSize() {
		return false
	}

	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()

	d.log.Seek(int64(offset), io.SeekStart)
	readBytes, err := d.log.Read(logData)
	*retReadBytes = uint32(readBytes)

	if err != nil {
		return false
	}

	return true
}

// GetLogFileSize returns current size of the log file
func (d *DiskManagerImpl) GetLogFileSize() int64 {
	d.logFileMutex.Lock()
	defer d.logFileMutex.Unlock()

	fileInfo, err := d.log.Stat()
	if err != nil {
		return -1
	}

	return fileInfo.Size()
}
