// this code is based on https://github.com/brunocalza/go-bustub

package buffer

import (
	"github.com/sasha-s/go-deadlock"
)

// FrameID is the type for frame id
type FrameID uint32

// LRUReplacer tracks the frames which are eligible for eviction (pin count
// zero) and victimizes the one which has been sitting unpinned the longest.
// a frame's recency is fixed at its first Unpin after a Pin. re-unpinning
// does not refresh it.
//
// all state transitions are driven by the buffer pool manager, which already
// serializes its calls. the internal lock is defense in depth only.
type LRUReplacer struct {
	victims *recencyList
	mutex   deadlock.Mutex
}

// Victim removes and returns the least recently unpinned frame as defined by
// the replacement policy. returns nil when no frame is evictable
func (l *LRUReplacer) Victim() *FrameID {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.victims.popBack()
}

// Unpin marks a frame as evictable, indicating that it can now be victimized.
// a frame which is already evictable keeps its original recency
func (l *LRUReplacer) Unpin(id FrameID) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.victims.hasKey(id) {
		return
	}

	// every tracked frame corresponds to a real pool slot, so the bound can
	// only be hit by misuse. drop the oldest entries rather than grow
	for l.victims.isFull() {
		l.victims.popBack()
	}
	l.victims.pushFront(id)
}

// Pin removes a frame from the evictable set, indicating that it should not
// be victimized until it is unpinned. unknown frames are ignored
func (l *LRUReplacer) Pin(id FrameID) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.victims.remove(id)
}

// Size returns the number of currently evictable frames
func (l *LRUReplacer) Size() uint32 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.victims.size
}

func (l *LRUReplacer) isContain(id FrameID) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.victims.hasKey(id)
}

func (l *LRUReplacer) PrintList() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.victims.Print()
}

// NewLRUReplacer instantiates a new LRU replacer with capacity poolSize
func NewLRUReplacer(poolSize uint32) *LRUReplacer {
	return &LRUReplacer{victims: newRecencyList(poolSize)}
}
