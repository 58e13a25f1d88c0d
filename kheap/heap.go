// Package kheap implements a first-fit coalescing allocator over a single
// fixed-size byte pool, the sole source of dynamic memory for the nonos
// kernel's task, event and message bookkeeping.
//
// Addresses are opaque Ptr values (derived from byte offsets into the pool), never real
// Go pointers, so an allocator bug can corrupt only the simulated pool and
// never the host process's heap.
package kheap

import "errors"

// Ptr is a block's byte offset into an Allocator's pool plus one, so the
// zero value, NullPtr, never denotes a live allocation.
type Ptr int

// NullPtr is the handle returned on failure and never a valid allocation.
const NullPtr Ptr = 0

var (
	ErrInvalidSize    = errors.New("kheap: invalid size")
	ErrOutOfMemory    = errors.New("kheap: no free block large enough")
	ErrInvalidPointer = errors.New("kheap: pointer not owned by this pool")
	ErrNotInitialized = errors.New("kheap: allocator not initialized")
)

// freeNode is one entry of the address-ordered doubly linked free list.
// It lives in the allocator's own bookkeeping, not inside the pool bytes:
// Go gives no safe way to overlay a struct on a []byte without unsafe, and
// the rest of this port avoids unsafe the way the corpus does.
type freeNode struct {
	off, size  int
	prev, next *freeNode
}

// Allocator is a first-fit coalescing allocator over one contiguous pool.
// It is not safe for concurrent use; callers serialize access (the kernel
// does so under its own critical section, exactly as the original's
// Mem_malloc/Mem_free are only ever called from within a locked region).
type Allocator struct {
	pool     []byte
	align    int
	freeSum  int
	freeHead *freeNode
	used     map[Ptr]int // offset -> payload size, for Free/Realloc bookkeeping
}

// minSplit is the smallest leftover worth keeping as its own free block.
// Below this, a split would hand back a sliver no Malloc could ever use.
const minSplit = 8

// Init creates an allocator over a pool of size bytes. align of 0 defaults
// to 8 (one word on a 64-bit host, the Go analogue of the original's
// sizeof(uint32_t) default). Init fails if size cannot hold even one
// aligned block.
func Init(size int, align int) (*Allocator, error) {
	if align == 0 {
		align = 8
	}
	if align <= 0 || (align&(align-1)) != 0 {
		return nil, ErrInvalidSize
	}
	if size < align {
		return nil, ErrInvalidSize
	}
	a := &Allocator{
		pool:  make([]byte, size),
		align: align,
		used:  make(map[Ptr]int),
	}
	a.freeHead = &freeNode{off: 0, size: size}
	a.freeSum = size
	return a, nil
}

func (a *Allocator) alignUp(n int) int {
	mask := a.align - 1
	return (n + mask) &^ mask
}

// Malloc returns a Ptr to a block of at least n bytes, or NullPtr and
// ErrOutOfMemory if no free block is large enough.
func (a *Allocator) Malloc(n int) (Ptr, error) {
	if a.pool == nil {
		return NullPtr, ErrNotInitialized
	}
	if n <= 0 {
		return NullPtr, ErrInvalidSize
	}
	need := a.alignUp(n)

	node := a.freeHead
	for node != nil && node.size < need {
		node = node.next
	}
	if node == nil {
		return NullPtr, ErrOutOfMemory
	}
	off := a.popFreeNode(node, need)
	a.used[Ptr(off+1)] = need
	return Ptr(off + 1), nil
}

// popFreeNode removes need bytes from the head of node's span, either by
// shrinking node in place (and inserting a new node for the remainder) or
// by unlinking node entirely when the remainder would be unusably small.
// Mirrors mem_popFreeBlockList's split-or-consume choice.
func (a *Allocator) popFreeNode(node *freeNode, need int) int {
	off := node.off
	left := node.size - need
	a.freeSum -= need

	if left < minSplit {
		a.freeSum -= left
		a.unlink(node)
		return off
	}

	node.off = off + need
	node.size = left
	return off
}

func (a *Allocator) unlink(node *freeNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		a.freeHead = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	}
}

// Calloc is Malloc followed by zeroing the returned block.
func (a *Allocator) Calloc(n int) (Ptr, error) {
	p, err := a.Malloc(n)
	if err != nil {
		return NullPtr, err
	}
	off := int(p) - 1
	size := a.used[p]
	clear(a.pool[off : off+size])
	return p, nil
}

// Free returns p's block to the pool, coalescing with adjacent free
// neighbors. Freeing NullPtr or a pointer this allocator did not hand out
// is a no-op error, never a crash: unlike the original (which only checked
// the lower bound of the pool and would silently corrupt memory just past
// the end), both ends of the owned range are validated.
func (a *Allocator) Free(p Ptr) error {
	if p == NullPtr {
		return ErrInvalidPointer
	}
	size, ok := a.used[p]
	if !ok {
		return ErrInvalidPointer
	}
	off := int(p) - 1
	if off < 0 || off+size > len(a.pool) {
		return ErrInvalidPointer
	}
	delete(a.used, p)
	a.pushFreeNode(off, size)
	return nil
}

// pushFreeNode inserts [off, off+size) into the address-ordered free list,
// merging with the predecessor and/or successor when they are adjacent.
// Mirrors mem_pushFreeBlockList.
func (a *Allocator) pushFreeNode(off, size int) {
	a.freeSum += size

	var prev, next *freeNode
	for n := a.freeHead; n != nil; n = n.next {
		if n.off >= off {
			next = n
			break
		}
		prev = n
	}

	node := &freeNode{off: off, size: size, prev: prev, next: next}

	if next != nil && off+size == next.off {
		node.size += next.size
		node.next = next.next
		if next.next != nil {
			next.next.prev = node
		}
	} else if next != nil {
		next.prev = node
	}

	if prev != nil && prev.off+prev.size == node.off {
		prev.size += node.size
		prev.next = node.next
		if node.next != nil {
			node.next.prev = prev
		}
		return
	}

	if prev != nil {
		prev.next = node
	} else {
		a.freeHead = node
	}
}

// Realloc grows or shrinks the block at p to n bytes, preserving the
// lesser of the old and new sizes' worth of content. The original C
// allocator's Mem_relloc allocated the *old* block's size instead of the
// requested one, silently truncating any growth request; this port
// allocates n, the size actually asked for.
func (a *Allocator) Realloc(p Ptr, n int) (Ptr, error) {
	if p == NullPtr {
		return a.Malloc(n)
	}
	oldSize, ok := a.used[p]
	if !ok {
		return NullPtr, ErrInvalidPointer
	}
	oldOff := int(p) - 1

	newPtr, err := a.Malloc(n)
	if err != nil {
		return NullPtr, err
	}
	newOff := int(newPtr) - 1

	copySize := oldSize
	if n < copySize {
		copySize = n
	}
	copy(a.pool[newOff:newOff+copySize], a.pool[oldOff:oldOff+oldSize])

	if err := a.Free(p); err != nil {
		return NullPtr, err
	}
	return newPtr, nil
}

// FreeSum returns the total number of bytes currently free.
func (a *Allocator) FreeSum() int {
	return a.freeSum
}

// Size returns the payload size of a live allocation, or 0 if p is not
// currently allocated.
func (a *Allocator) Size(p Ptr) int {
	return a.used[p]
}
