// this code is based on https://github.com/brunocalza/go-bustub

package disk

import (
	"os"

	"github.com/kawasemidb/kawasemi/common"
)

// DiskManagerTest is the disk implementation of DiskManager for testing purposes
type DiskManagerTest struct {
	path string
	DiskManager
}

// NewDiskManagerTest returns a DiskManager instance for testing purposes
func NewDiskManagerTest() DiskManager {
	// Retrieve a temporary path.
	f, err := os.CreateTemp("", "kawasemi.*.db")
	if err != nil {
		panic(err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)

	if !common.EnableOnMemStorage || common.TempSuppressOnMemStorage {
		return &DiskManagerTest{path, NewDiskManagerImpl(path)}
	}
	return &DiskManagerTest{path, NewVirtualDiskManagerImpl(path)}
}

// ShutDown closes the underlying store and removes its files
func (d *DiskManagerTest) ShutDown() {
	d.DiskManager.ShutDown()
	if !common.EnableOnMemStorage || common.TempSuppressOnMemStorage {
		os.Remove(d.path)
		d.DiskManager.RemoveLogFile()
	}
}
