// this code is based on https://github.com/brunocalza/go-bustub

package buffer

import (
	"crypto/rand"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spaolacci/murmur3"

	"github.com/kawasemidb/kawasemi/common"
	"github.com/kawasemidb/kawasemi/recovery"
	"github.com/kawasemidb/kawasemi/storage/disk"
	testingpkg "github.com/kawasemidb/kawasemi/testing/testing_assert"
	"github.com/kawasemidb/kawasemi/types"
)

func newTestPool(poolSize uint32) (*BufferPoolManager, disk.DiskManager) {
	dm := disk.NewDiskManagerTest()
	return NewBufferPoolManager(poolSize, dm, recovery.NewLogManager(dm)), dm
}

func TestBinaryData(t *testing.T) {
	poolSize := uint32(10)

	dm := disk.NewDiskManagerTest()
	defer dm.ShutDown()
	bpm := NewBufferPoolManager(poolSize, dm, recovery.NewLogManager(dm))

	page0, err := bpm.NewPage()
	testingpkg.Ok(t, err)

	// Scenario: The buffer pool is empty. We should be able to create a new page.
	testingpkg.Equals(t, types.PageID(0), page0.GetPageId())

	// Generate random binary data
	randomBinaryData := make([]byte, common.PageSize)
	rand.Read(randomBinaryData)

	// Insert terminal characters both in the middle and at end
	randomBinaryData[common.PageSize/2] = '0'
	randomBinaryData[common.PageSize-1] = '0'

	var fixedRandomBinaryData [common.PageSize]byte
	copy(fixedRandomBinaryData[:], randomBinaryData[:common.PageSize])
	writtenSum := murmur3.Sum64(randomBinaryData)

	// Scenario: Once we have a page, we should be able to read and write content.
	page0.Copy(0, randomBinaryData)
	testingpkg.Equals(t, fixedRandomBinaryData, *page0.Data())

	// Scenario: We should be able to create new pages until we fill up the buffer pool.
	for i := uint32(1); i < poolSize; i++ {
		p, err := bpm.NewPage()
		testingpkg.Ok(t, err)
		testingpkg.Equals(t, types.PageID(i), p.GetPageId())
	}

	// Scenario: Once the buffer pool is full, we should not be able to create any new pages.
	for i := poolSize; i < poolSize*2; i++ {
		_, err := bpm.NewPage()
		testingpkg.Equals(t, ErrPoolExhausted, err)
	}

	// Scenario: After unpinning pages {0, 1, 2, 3, 4} and pinning another 4 new pages,
	// there would still be one cache frame left for reading page 0.
	for i := 0; i < 5; i++ {
		testingpkg.Ok(t, bpm.UnpinPage(types.PageID(i), true))
		testingpkg.Ok(t, bpm.FlushPage(types.PageID(i)))
	}
	for i := 0; i < 4; i++ {
		p, err := bpm.NewPage()
		testingpkg.Ok(t, err)
		bpm.UnpinPage(p.GetPageId(), false)
	}

	// Scenario: We should be able to fetch the data we wrote a while ago.
	page0, err = bpm.FetchPage(types.PageID(0))
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, fixedRandomBinaryData, *page0.Data())
	testingpkg.Equals(t, writtenSum, murmur3.Sum64(page0.Data()[:]))
	testingpkg.Ok(t, bpm.UnpinPage(types.PageID(0), true))
}

func TestSample(t *testing.T) {
	poolSize := uint32(10)

	dm := disk.NewDiskManagerTest()
	defer dm.ShutDown()
	bpm := NewBufferPoolManager(poolSize, dm, recovery.NewLogManager(dm))

	page0, err := bpm.NewPage()
	testingpkg.Ok(t, err)

	// Scenario: The buffer pool is empty. We should be able to create a new page.
	testingpkg.Equals(t, types.PageID(0), page0.GetPageId())

	// Scenario: Once we have a page, we should be able to read and write content.
	page0.Copy(0, []byte("Hello"))
	testingpkg.Equals(t, [common.PageSize]byte{'H', 'e', 'l', 'l', 'o'}, *page0.Data())

	// Scenario: We should be able to create new pages until we fill up the buffer pool.
	for i := uint32(1); i < poolSize; i++ {
		p, err := bpm.NewPage()
		testingpkg.Ok(t, err)
		testingpkg.Equals(t, types.PageID(i), p.GetPageId())
	}

	// Scenario: Once the buffer pool is full, we should not be able to create any new pages.
	for i := poolSize; i < poolSize*2; i++ {
		_, err := bpm.NewPage()
		testingpkg.Equals(t, ErrPoolExhausted, err)
	}

	// Scenario: After unpinning pages {0, 1, 2, 3, 4} we should be able to create 4 new pages.
	for i := 0; i < 5; i++ {
		testingpkg.Ok(t, bpm.UnpinPage(types.PageID(i), true))
		testingpkg.Ok(t, bpm.FlushPage(types.PageID(i)))
	}
	for i := 0; i < 4; i++ {
		_, err := bpm.NewPage()
		testingpkg.Ok(t, err)
	}

	// Scenario: We should be able to fetch the data we wrote a while ago.
	page0, err = bpm.FetchPage(types.PageID(0))
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, [common.PageSize]byte{'H', 'e', 'l', 'l', 'o'}, *page0.Data())

	// Scenario: If we unpin page 0 and then make a new page, all the buffer pages should
	// now be pinned. Fetching page 0 should fail.
	testingpkg.Ok(t, bpm.UnpinPage(types.PageID(0), true))

	p, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, types.PageID(14), p.GetPageId())
	_, err = bpm.NewPage()
	testingpkg.Equals(t, ErrPoolExhausted, err)
	_, err = bpm.FetchPage(types.PageID(0))
	testingpkg.Equals(t, ErrPoolExhausted, err)

	// the pinned pages are exactly the resident ones
	pinned := mapset.NewSet[types.PageID]()
	for _, info := range bpm.PinnedPageInfos() {
		testingpkg.Equals(t, int32(1), info.Second)
		pinned.Add(info.First)
	}
	expected := mapset.NewSet[types.PageID](5, 6, 7, 8, 9, 10, 11, 12, 13, 14)
	testingpkg.Assert(t, pinned.Equal(expected), "pinned pages %v != %v", pinned, expected)
}

func TestFetchUnpinRestoresPinCount(t *testing.T) {
	bpm, dm := newTestPool(3)
	defer dm.ShutDown()

	pg, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	pageID := pg.GetPageId()
	testingpkg.Equals(t, int32(1), pg.PinCount())
	testingpkg.Ok(t, bpm.UnpinPage(pageID, false))
	testingpkg.Equals(t, int32(0), pg.PinCount())

	// fetch followed by unpin restores the pin count to its prior value
	pg, err = bpm.FetchPage(pageID)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, int32(1), pg.PinCount())
	testingpkg.Ok(t, bpm.UnpinPage(pageID, false))
	testingpkg.Equals(t, int32(0), pg.PinCount())
}

func TestUnbalancedUnpin(t *testing.T) {
	bpm, dm := newTestPool(3)
	defer dm.ShutDown()

	pg, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	pageID := pg.GetPageId()

	testingpkg.Ok(t, bpm.UnpinPage(pageID, false))
	// the second unpin is a caller error and must not drive the count negative
	testingpkg.Equals(t, ErrUnbalancedUnpin, bpm.UnpinPage(pageID, true))
	testingpkg.Equals(t, int32(0), pg.PinCount())
	// the failed unpin must not have set the dirty flag either
	testingpkg.Equals(t, false, pg.IsDirty())

	testingpkg.Equals(t, ErrPageNotFound, bpm.UnpinPage(types.PageID(9999), false))
}

func TestFlushPage(t *testing.T) {
	bpm, dm := newTestPool(3)
	defer dm.ShutDown()

	pg, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	pg.Copy(0, []byte("dirty bytes"))
	testingpkg.Ok(t, bpm.UnpinPage(pg.GetPageId(), true))
	testingpkg.Equals(t, true, pg.IsDirty())

	// flush persists unconditionally and clears the dirty flag
	testingpkg.Ok(t, bpm.FlushPage(pg.GetPageId()))
	testingpkg.Equals(t, false, pg.IsDirty())

	readBuf := make([]byte, common.PageSize)
	testingpkg.Ok(t, dm.ReadPage(pg.GetPageId(), readBuf))
	testingpkg.Equals(t, byte('d'), readBuf[0])

	testingpkg.Equals(t, ErrPageNotFound, bpm.FlushPage(types.PageID(9999)))
}

func TestDirtyVictimIsWrittenBackOnEviction(t *testing.T) {
	bpm, dm := newTestPool(2)
	defer dm.ShutDown()

	pg0, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	pg0.Copy(0, []byte("preserved"))
	testingpkg.Ok(t, bpm.UnpinPage(pg0.GetPageId(), true))

	// fill the pool so that pg0's frame gets victimized
	for i := 0; i < 2; i++ {
		p, err := bpm.NewPage()
		testingpkg.Ok(t, err)
		testingpkg.Ok(t, bpm.UnpinPage(p.GetPageId(), false))
	}

	readBuf := make([]byte, common.PageSize)
	testingpkg.Ok(t, dm.ReadPage(pg0.GetPageId(), readBuf))
	testingpkg.Equals(t, []byte("preserved"), readBuf[:9])
}

func TestPoolExhaustionAndEviction(t *testing.T) {
	// Scenario from the drawing board: pool size 2, two new pages pinned,
	// a fetch of a third page must fail until one of them is unpinned.
	bpm, dm := newTestPool(2)
	defer dm.ShutDown()

	p1, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, types.PageID(0), p1.GetPageId())
	p2, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, types.PageID(1), p2.GetPageId())

	// seed a third page directly in storage
	p3ID := dm.AllocatePage()
	seed := make([]byte, common.PageSize)
	copy(seed, []byte("third page"))
	testingpkg.Ok(t, dm.WritePage(p3ID, seed))

	_, err = bpm.FetchPage(p3ID)
	testingpkg.Equals(t, ErrPoolExhausted, err)

	testingpkg.Ok(t, bpm.UnpinPage(p1.GetPageId(), false))

	p3, err := bpm.FetchPage(p3ID)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, []byte("third page"), p3.Data()[:10])

	// p1 was evicted. fetching it back must reload it from storage
	testingpkg.Ok(t, bpm.UnpinPage(p2.GetPageId(), false))
	p1Again, err := bpm.FetchPage(types.PageID(0))
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, types.PageID(0), p1Again.GetPageId())
	testingpkg.Equals(t, int32(1), p1Again.PinCount())
}

func TestLRUEvictionOrderAtPoolLevel(t *testing.T) {
	bpm, dm := newTestPool(3)
	defer dm.ShutDown()

	pgA, _ := bpm.NewPage()
	pgB, _ := bpm.NewPage()
	pgC, _ := bpm.NewPage()
	writesAfterSetup := dm.GetNumWrites()

	// unpin order B, A, C with only B dirty
	testingpkg.Ok(t, bpm.UnpinPage(pgB.GetPageId(), true))
	testingpkg.Ok(t, bpm.UnpinPage(pgA.GetPageId(), false))
	testingpkg.Ok(t, bpm.UnpinPage(pgC.GetPageId(), false))

	// the next allocation must victimize B's frame, writing B back. one
	// write-back plus one eager zero-page write.
	_, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, writesAfterSetup+2, dm.GetNumWrites())

	// the one after victimizes A's frame, which is clean. only the eager
	// zero-page write happens.
	_, err = bpm.NewPage()
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, writesAfterSetup+3, dm.GetNumWrites())
}

func TestDeletePage(t *testing.T) {
	bpm, dm := newTestPool(2)
	defer dm.ShutDown()

	pg, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	pageID := pg.GetPageId()

	// deleting a non-resident page succeeds trivially
	testingpkg.Ok(t, bpm.DeletePage(types.PageID(9999)))

	// deleting a pinned page fails and leaves it resident and pinned
	testingpkg.Equals(t, ErrPageInUse, bpm.DeletePage(pageID))
	testingpkg.Equals(t, int32(1), pg.PinCount())
	fetched, err := bpm.FetchPage(pageID)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, int32(2), fetched.PinCount())
	testingpkg.Ok(t, bpm.UnpinPage(pageID, false))
	testingpkg.Ok(t, bpm.UnpinPage(pageID, false))

	// an unpinned page can be deleted and its frame returns to the free list
	testingpkg.Ok(t, bpm.DeletePage(pageID))
	_, err = bpm.FetchPage(pageID)
	testingpkg.NotOk(t, err)

	// the freed frame (plus the untouched one) can hold two new pages even
	// though the replacer has no victims
	_, err = bpm.NewPage()
	testingpkg.Ok(t, err)
	_, err = bpm.NewPage()
	testingpkg.Ok(t, err)
}

func TestPersistenceAcrossPoolInstances(t *testing.T) {
	dm := disk.NewVirtualDiskManagerImpl("persistence_test.db")

	bpm := NewBufferPoolManager(2, dm, recovery.NewLogManager(dm))
	pg, err := bpm.NewPage()
	testingpkg.Ok(t, err)
	pageID := pg.GetPageId()
	pg.Copy(0, []byte("survives a pool restart"))
	contentSum := murmur3.Sum64(pg.Data()[:])
	testingpkg.Ok(t, bpm.UnpinPage(pageID, true))
	testingpkg.Ok(t, bpm.FlushPage(pageID))

	// a fresh pool backed by the same storage observes the mutated bytes
	bpm2 := NewBufferPoolManager(2, dm, recovery.NewLogManager(dm))
	pg2, err := bpm2.FetchPage(pageID)
	testingpkg.Ok(t, err)
	testingpkg.Equals(t, contentSum, murmur3.Sum64(pg2.Data()[:]))
	testingpkg.Ok(t, bpm2.UnpinPage(pageID, false))
}

func TestConcurrentFetchUnpin(t *testing.T) {
	poolSize := uint32(10)
	numPages := 50
	numGoroutines := 8
	numIterations := 100

	bpm, dm := newTestPool(poolSize)
	defer dm.ShutDown()

	pageIDs := make([]types.PageID, 0, numPages)
	for i := 0; i < numPages; i++ {
		pg, err := bpm.NewPage()
		testingpkg.Ok(t, err)
		pg.Copy(0, pg.GetPageId().Serialize())
		pageIDs = append(pageIDs, pg.GetPageId())
		testingpkg.Ok(t, bpm.UnpinPage(pg.GetPageId(), true))
	}

	// each goroutine pins at most one page at a time, so the pool can never
	// be exhausted and a pinned page must never lose its bytes to eviction
	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < numIterations; i++ {
				pageID := pageIDs[(seed*numIterations+i)%numPages]
				pg, err := bpm.FetchPage(pageID)
				if err != nil {
					t.Errorf("FetchPage(%d): %v", pageID, err)
					return
				}
				if pg.PinCount() < 1 {
					t.Errorf("page %d is pinned but has pin count %d", pageID, pg.PinCount())
				}
				pg.RLatch()
				gotID := types.NewPageIDFromBytes(pg.Data()[:4])
				pg.RUnlatch()
				if gotID != pageID {
					t.Errorf("page %d holds bytes of page %d", pageID, gotID)
				}
				if err := bpm.UnpinPage(pageID, false); err != nil {
					t.Errorf("UnpinPage(%d): %v", pageID, err)
				}
			}
		}(g)
	}
	wg.Wait()

	bpm.FlushAllPages()
}
