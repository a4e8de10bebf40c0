// this code is based on https://github.com/pzhzqt/goostub

package common

import (
	"sync"
	"time"
)

var LogTimeout time.Duration

const EnableDebug bool = false

// use on memory virtual storage or not
const EnableOnMemStorage = true

// when this is true, virtual storage use is suppressed
// for test cases which can't work with virtual storage
var TempSuppressOnMemStorage = false
var TempSuppressOnMemStorageMutex sync.Mutex

const (
	// invalid page id
	InvalidPageID = -1
	// invalid log sequence number
	InvalidLSN = -1
	// size of a data page in byte
	PageSize = 4096
	// number for calculating log buffer size (number of page size)
	LogBufferSizeBase = 128
	// size of a log buffer in byte
	LogBufferSize = (LogBufferSizeBase + 1) * PageSize
	// log kinds which are printed when EnableDebug is true
	ActiveLogKindSetting = INFO | WARN | ERROR
)
