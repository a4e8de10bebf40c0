// this code is based on https://github.com/brunocalza/go-bustub

package buffer

import (
	"fmt"
	"sort"

	"github.com/golang-collections/collections/queue"
	"github.com/ncw/directio"
	pair "github.com/notEpsilon/go-pair"
	"github.com/sasha-s/go-deadlock"

	"github.com/kawasemidb/kawasemi/common"
	"github.com/kawasemidb/kawasemi/errors"
	"github.com/kawasemidb/kawasemi/recovery"
	"github.com/kawasemidb/kawasemi/storage/disk"
	"github.com/kawasemidb/kawasemi/storage/page"
	"github.com/kawasemidb/kawasemi/types"
)

const (
	// ErrPageNotFound is returned when the requested page is not resident
	ErrPageNotFound = errors.Error("page not found in buffer pool")
	// ErrPoolExhausted is returned when every frame is pinned and none can be reclaimed.
	// the caller is expected to release pins elsewhere and retry
	ErrPoolExhausted = errors.Error("buffer pool exhausted: all frames are pinned")
	// ErrPageInUse is returned by DeletePage when the target page is still pinned
	ErrPageInUse = errors.Error("page is pinned and cannot be deleted")
	// ErrUnbalancedUnpin is returned when UnpinPage targets a page whose pin count is already zero
	ErrUnbalancedUnpin = errors.Error("unpin of a page whose pin count is already zero")
)

// BufferPoolManager arbitrates access to a fixed set of in-memory frames
// caching disk pages. it owns the frame array, the free list and the page
// table, delegates victim selection to an LRUReplacer and performs all reads
// and write-backs through the disk manager. one manager-wide mutex is held
// for the whole duration of every public operation.
type BufferPoolManager struct {
	diskManager disk.DiskManager
	pages       []*page.Page // index is FrameID
	replacer    *LRUReplacer
	freeList    *queue.Queue // frames never yet assigned a page
	pageTable   map[types.PageID]FrameID
	logManager  *recovery.LogManager
	mutex       *deadlock.Mutex
}

// FetchPage fetches the requested page from the buffer pool, loading it from
// disk when it is not resident. the returned page is pinned and must be
// released with UnpinPage
func (b *BufferPoolManager) FetchPage(pageID types.PageID) (*page.Page, error) {
	// if it is on buffer pool return it
	b.mutex.Lock()
	if frameID, ok := b.pageTable[pageID]; ok {
		pg := b.pages[frameID]
		pg.IncPinCount()
		b.replacer.Pin(frameID)
		b.mutex.Unlock()
		if common.EnableDebug {
			common.ShPrintf(common.DEBUG_INFO, "FetchPage: PageId=%d PinCount=%d\n", pg.GetPageId(), pg.PinCount())
		}
		return pg, nil
	}

	// get a frame from the free list or from the replacer
	frameID, isFromFreeList := b.getFrameID()
	if frameID == nil {
		b.mutex.Unlock()
		return nil, ErrPoolExhausted
	}

	if !isFromFreeList {
		// flush the victim before anything is unlinked so that a failed call
		// leaves the pool exactly as it was
		if err := b.evictFrame(*frameID); err != nil {
			b.replacer.Unpin(*frameID)
			b.mutex.Unlock()
			return nil, err
		}
	}

	data := directio.AlignedBlock(common.PageSize)
	if err := b.diskManager.ReadPage(pageID, data); err != nil {
		b.returnFrame(*frameID, isFromFreeList)
		b.mutex.Unlock()
		return nil, err
	}

	if !isFromFreeList {
		// remove the victim page from its frame
		currentPage := b.pages[*frameID]
		if currentPage != nil {
			if common.EnableDebug {
				common.ShPrintf(common.CACHE_OUT_IN_INFO, "FetchPage: cache out occurs! pageId:%d requested pageId:%d\n", currentPage.GetPageId(), pageID)
			}
			delete(b.pageTable, currentPage.GetPageId())
		}
	}

	var pageData [common.PageSize]byte
	pageData = *(*[common.PageSize]byte)(data)
	pg := page.New(pageID, false, &pageData)

	b.pageTable[pageID] = *frameID
	b.pages[*frameID] = pg
	b.replacer.Pin(*frameID)
	b.mutex.Unlock()

	if common.EnableDebug {
		common.ShPrintf(common.DEBUG_INFO, "FetchPage: PageId=%d PinCount=%d\n", pg.GetPageId(), pg.PinCount())
	}
	return pg, nil
}

// UnpinPage unpins the target page from the buffer pool. isDirty reports
// whether the caller modified the page. the dirty flag is sticky: unpinning
// with isDirty=false never clears it
func (b *BufferPoolManager) UnpinPage(pageID types.PageID, isDirty bool) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	frameID, ok := b.pageTable[pageID]
	if !ok {
		return ErrPageNotFound
	}

	pg := b.pages[frameID]
	if pg.PinCount() <= 0 {
		// caller error. the page and the pool are left untouched
		return ErrUnbalancedUnpin
	}

	if isDirty {
		pg.SetIsDirty(true)
	}

	pg.DecPinCount()
	if pg.PinCount() == 0 {
		b.replacer.Unpin(frameID)
	}

	if common.EnableDebug {
		common.ShPrintf(common.DEBUG_INFO, "UnpinPage: PageId=%d PinCount=%d\n", pg.GetPageId(), pg.PinCount())
	}
	return nil
}

// FlushPage writes the target page to disk whether or not it is dirty and
// clears its dirty flag. pin count and residency are unaffected
func (b *BufferPoolManager) FlushPage(pageID types.PageID) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.flushPage(pageID)
}

// caller must hold b.mutex
func (b *BufferPoolManager) flushPage(pageID types.PageID) error {
	frameID, ok := b.pageTable[pageID]
	if !ok {
		return ErrPageNotFound
	}

	pg := b.pages[frameID]
	pg.RLatch()
	data := pg.Data()
	err := b.diskManager.WritePage(pageID, data[:])
	pg.RUnlatch()
	if err != nil {
		return err
	}

	pg.SetIsDirty(false)
	return nil
}

// FlushAllPages flushes all the pages in the buffer pool to disk. best
// effort over a snapshot of the page table taken at call time
func (b *BufferPoolManager) FlushAllPages() {
	b.mutex.Lock()
	pageIDs := make([]types.PageID, 0, len(b.pageTable))
	for pageID := range b.pageTable {
		pageIDs = append(pageIDs, pageID)
	}
	b.mutex.Unlock()

	for _, pageID := range pageIDs {
		b.FlushPage(pageID)
	}
}

// NewPage allocates a new page in the buffer pool with the disk manager's
// help. the returned page is zero-filled, pinned, and already installed in
// the page table. its zeroed image is persisted eagerly so that a clean
// eviction before the first write-back still leaves the page readable
func (b *BufferPoolManager) NewPage() (*page.Page, error) {
	b.mutex.Lock()
	frameID, isFromFreeList := b.getFrameID()
	if frameID == nil {
		b.mutex.Unlock()
		return nil, ErrPoolExhausted
	}

	if !isFromFreeList {
		if err := b.evictFrame(*frameID); err != nil {
			b.replacer.Unpin(*frameID)
			b.mutex.Unlock()
			return nil, err
		}
	}

	pageID := b.diskManager.AllocatePage()
	pg := page.NewEmpty(pageID)

	if err := b.diskManager.WritePage(pageID, pg.Data()[:]); err != nil {
		b.diskManager.DeallocatePage(pageID)
		b.returnFrame(*frameID, isFromFreeList)
		b.mutex.Unlock()
		return nil, err
	}

	if !isFromFreeList {
		currentPage := b.pages[*frameID]
		if currentPage != nil {
			if common.EnableDebug {
				common.ShPrintf(common.CACHE_OUT_IN_INFO, "NewPage: cache out occurs! pageId:%d\n", currentPage.GetPageId())
			}
			delete(b.pageTable, currentPage.GetPageId())
		}
	}

	b.pageTable[pageID] = *frameID
	b.pages[*frameID] = pg
	b.replacer.Pin(*frameID)
	b.mutex.Unlock()

	if common.EnableDebug {
		common.ShPrintf(common.DEBUG_INFO, "NewPage: returned pageID: %d\n", pageID)
	}
	return pg, nil
}

// DeletePage drops the target page from the buffer pool and hands its
// identity back to the disk manager. deleting a non-resident page succeeds
// trivially. deleting a pinned page fails with ErrPageInUse and changes
// nothing
func (b *BufferPoolManager) DeletePage(pageID types.PageID) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	frameID, ok := b.pageTable[pageID]
	if !ok {
		return nil
	}

	pg := b.pages[frameID]
	if pg.PinCount() > 0 {
		return ErrPageInUse
	}

	// a dirty page is written back directly. routing the write-back through
	// the fetch path would pin the page a second time
	if pg.IsDirty() {
		b.logManager.Flush()
		if err := b.flushPage(pageID); err != nil {
			return err
		}
	}

	b.diskManager.DeallocatePage(pageID)
	b.replacer.Pin(frameID)
	delete(b.pageTable, pageID)
	b.pages[frameID] = nil
	b.freeList.Enqueue(frameID)

	return nil
}

// evictFrame writes the frame's current page back to disk when it is dirty.
// the page table entry is left in place. caller must hold b.mutex
func (b *BufferPoolManager) evictFrame(frameID FrameID) error {
	currentPage := b.pages[frameID]
	if currentPage == nil {
		return nil
	}

	if currentPage.PinCount() != 0 {
		panic("BPM::evictFrame pin count of page to be cached out must be zero")
	}

	if currentPage.IsDirty() {
		// WAL rule: log records describing the page's updates reach the log
		// file before the page image reaches the db file
		b.logManager.Flush()
		currentPage.WLatch()
		data := currentPage.Data()
		err := b.diskManager.WritePage(currentPage.GetPageId(), data[:])
		currentPage.WUnlatch()
		if err != nil {
			return err
		}
		currentPage.SetIsDirty(false)
	}
	return nil
}

// returnFrame puts a frame back where getFrameID took it from. caller must
// hold b.mutex
func (b *BufferPoolManager) returnFrame(frameID FrameID, wasFromFreeList bool) {
	if wasFromFreeList {
		b.freeList.Enqueue(frameID)
	} else {
		b.replacer.Unpin(frameID)
	}
}

// caller must hold b.mutex
func (b *BufferPoolManager) getFrameID() (*FrameID, bool) {
	if b.freeList.Len() > 0 {
		frameID := b.freeList.Dequeue().(FrameID)
		return &frameID, true
	}

	ret := b.replacer.Victim()
	if ret == nil && common.EnableDebug {
		common.ShPrintf(common.BUFFER_INTERNAL_STATE, "getFrameID: no victim frame. free list is empty and all frames are pinned\n")
		common.RuntimeStack()
	}
	return ret, false
}

func (b *BufferPoolManager) GetPoolSize() int {
	return len(b.pages)
}

// PinnedPageInfos returns (page id, pin count) pairs for every resident page
// which is currently pinned, sorted by page id. diagnostic surface
func (b *BufferPoolManager) PinnedPageInfos() []pair.Pair[types.PageID, int32] {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	infos := make([]pair.Pair[types.PageID, int32], 0)
	for pageID, frameID := range b.pageTable {
		if !b.replacer.isContain(frameID) {
			infos = append(infos, pair.Pair[types.PageID, int32]{First: pageID, Second: b.pages[frameID].PinCount()})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].First < infos[j].First })
	return infos
}

func (b *BufferPoolManager) PrintReplacerInternalState() {
	b.replacer.PrintList()
}

func (b *BufferPoolManager) PrintBufferUsageState(callerAdditionalInfo string) {
	printStr := fmt.Sprintf("BPM::PrintBufferUsageState %s ", callerAdditionalInfo)
	for _, info := range b.PinnedPageInfos() {
		printStr += fmt.Sprintf("(%d,%d)-", info.First, info.Second)
	}
	fmt.Println(printStr)
}

// NewBufferPoolManager returns an empty buffer pool manager with poolSize
// frames, all on the free list
func NewBufferPoolManager(poolSize uint32, diskManager disk.DiskManager, logManager *recovery.LogManager) *BufferPoolManager {
	freeList := queue.New()
	pages := make([]*page.Page, poolSize)
	for i := uint32(0); i < poolSize; i++ {
		freeList.Enqueue(FrameID(i))
		pages[i] = nil
	}

	replacer := NewLRUReplacer(poolSize)
	return &BufferPoolManager{diskManager, pages, replacer, freeList, make(map[types.PageID]FrameID), logManager, new(deadlock.Mutex)}
}
