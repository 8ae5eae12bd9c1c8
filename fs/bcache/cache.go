// Package bcache implements the fixed 64-slot LRU block cache described
// in spec.md §4.6: Get/Release/Flush over a backing store, victim
// selection preferring invalid slots then the unpinned slot with the
// smallest last-acquire stamp, write-back-before-load on a dirty victim,
// and Get's non-blocking busy return when every slot is pinned.
//
// Slot/eviction vocabulary is grounded on jnwhiteh-minixfs's lru_buf
// front/rear doubly-linked eviction chain
// (pkg/minixfs/bcache/cache_lru.go), adapted from that package's
// channel-actor concurrency model to spec.md §5's single-mutex model: this
// kernel has one cooperative hart, so a channel-actor server adds nothing
// a lock already provides, and Get's non-blocking contract (spec.md §4.6,
// "if every slot is pinned, return busy") rules out a blocking actor call
// in the first place.
package bcache

import (
	"unsafe"

	"gopherv/kernel/heap"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/mem"
	"gopherv/kernel/thread"
)

const errModule = "bcache"

// SlotCount is the cache's fixed capacity, per spec.md §4.6.
const SlotCount = 64

// Backing is the block-addressed store a Cache fetches from and writes
// back to; device/virtio/block.Device satisfies it directly.
type Backing interface {
	Fetch(pos uint64, buf []byte) (int, *kernelerr.Error)
	Store(pos uint64, buf []byte) (int, *kernelerr.Error)
}

type slot struct {
	pos      uint64
	valid    bool
	dirty    bool
	pinned   int
	lastUsed uint64
	data     []byte
}

// Cache is the process-wide block cache. One Cache exists per mounted
// file system.
type Cache struct {
	lock      thread.Lock
	backing   Backing
	blockSize int
	counter   uint64
	hits      uint64
	misses    uint64
	slots     [SlotCount]slot
}

// Block is a pinned slot's handle, returned by Get and consumed by
// Release.
type Block struct {
	idx  int
	Data []byte
}

// Init allocates the cache's slot buffers from alloc (spec.md §9's "heap
// init" supplies this backing storage) and records the backing store and
// its block size.
func (c *Cache) Init(alloc *heap.Allocator, backing Backing, blockSize int) *kernelerr.Error {
	*c = Cache{backing: backing, blockSize: blockSize}

	total := SlotCount * blockSize
	pages := (total + mem.PageSize - 1) / mem.PageSize
	base, err := alloc.AllocPages(pages)
	if err != nil {
		return kernelerr.New(errModule, kernelerr.OutOfMemory, "no memory for cache slot buffers")
	}

	for i := range c.slots {
		addr := base + uintptr(i*blockSize)
		c.slots[i].data = unsafe.Slice((*byte)(unsafe.Pointer(addr)), blockSize)
	}
	return nil
}

// BlockSize returns the cache's configured block size, checked by
// fs.Mount against the on-disk superblock's block size.
func (c *Cache) BlockSize() int {
	return c.blockSize
}

// Stats reports the running count of Get calls satisfied from a
// already-valid slot (hits) versus those that required a backing-store
// fetch (misses), read by kernel/diag's boot-time report.
func (c *Cache) Stats() (hits, misses uint64) {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.hits, c.misses
}

// Get pins the block at pos, fetching it from backing storage on a miss,
// and returns its buffer. Non-blocking: if every slot is already pinned,
// Get returns busy immediately rather than waiting for one to free up.
func (c *Cache) Get(pos uint64) (*Block, *kernelerr.Error) {
	if pos%uint64(c.blockSize) != 0 {
		return nil, kernelerr.New(errModule, kernelerr.InvalidArgument, "misaligned block position")
	}

	c.lock.Acquire()
	defer c.lock.Release()

	for i := range c.slots {
		s := &c.slots[i]
		if s.valid && s.pos == pos {
			s.pinned++
			c.counter++
			c.hits++
			s.lastUsed = c.counter
			return &Block{idx: i, Data: s.data}, nil
		}
	}
	c.misses++

	victim := c.selectVictim()
	if victim == -1 {
		return nil, kernelerr.New(errModule, kernelerr.Busy, "every cache slot is pinned")
	}
	s := &c.slots[victim]

	if s.valid && s.dirty {
		if _, err := c.backing.Store(s.pos, s.data); err != nil {
			return nil, err
		}
		s.dirty = false
	}

	if _, err := c.backing.Fetch(pos, s.data); err != nil {
		s.valid = false
		s.pinned = 0
		return nil, err
	}

	s.pos = pos
	s.valid = true
	s.dirty = false
	s.pinned = 1
	c.counter++
	s.lastUsed = c.counter
	return &Block{idx: victim, Data: s.data}, nil
}

// selectVictim returns the index of the slot Get should evict: the first
// invalid slot if any exists, else the unpinned slot with the smallest
// last-used stamp, or -1 if every slot is pinned.
func (c *Cache) selectVictim() int {
	for i := range c.slots {
		if !c.slots[i].valid {
			return i
		}
	}

	best := -1
	for i := range c.slots {
		if c.slots[i].pinned > 0 {
			continue
		}
		if best == -1 || c.slots[i].lastUsed < c.slots[best].lastUsed {
			best = i
		}
	}
	return best
}

// Release decrements b's pin count and ORs dirty into its dirty flag.
// Release never updates last-used: LRU ordering is by most-recent
// acquire time, not release time, so a hot-but-held block never falsely
// appears older than a cold scan.
func (c *Cache) Release(b *Block, dirty bool) {
	c.lock.Acquire()
	defer c.lock.Release()

	s := &c.slots[b.idx]
	if s.pinned > 0 {
		s.pinned--
	}
	s.dirty = s.dirty || dirty
}

// Flush writes back every valid+dirty+unpinned slot. A valid+dirty+pinned
// slot makes the overall call report busy, but the walk continues so
// every independent clean-up still happens; a backing-store error aborts
// the walk and is surfaced immediately.
func (c *Cache) Flush() *kernelerr.Error {
	c.lock.Acquire()
	defer c.lock.Release()

	busy := false
	for i := range c.slots {
		s := &c.slots[i]
		if !s.valid || !s.dirty {
			continue
		}
		if s.pinned > 0 {
			busy = true
			continue
		}
		if _, err := c.backing.Store(s.pos, s.data); err != nil {
			return err
		}
		s.dirty = false
	}
	if busy {
		return kernelerr.New(errModule, kernelerr.Busy, "flush skipped a pinned dirty slot")
	}
	return nil
}
