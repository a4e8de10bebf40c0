package common

import "fmt"

type LogLevel int32

const (
	DEBUG_INFO_DETAIL     LogLevel = 1
	DEBUG_INFO                     = 2
	CACHE_OUT_IN_INFO              = 4
	PIN_COUNT_ASSERT               = 8
	BUFFER_INTERNAL_STATE          = 16
	INFO                           = 32
	WARN                           = 64
	ERROR                          = 128
)

func ShPrintf(logLevel LogLevel, fmtStl string, a ...interface{}) {
	if logLevel&ActiveLogKindSetting > 0 {
		fmt.Printf(fmtStl, a...)
	}
}
