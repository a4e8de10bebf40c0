// this code is based on https://github.com/brunocalza/go-bustub

package buffer

import (
	"fmt"
)

type node struct {
	key  FrameID
	next *node
	prev *node
}

// recencyList is a doubly linked list of frame ids ordered by recency of
// insertion. the head holds the most recently inserted id, the tail the
// least recently inserted one. supportMap gives O(1) membership checks and
// removals by key.
type recencyList struct {
	head       *node
	tail       *node
	size       uint32
	capacity   uint32
	supportMap map[FrameID]*node
}

func (c *recencyList) hasKey(key FrameID) bool {
	_, ok := c.supportMap[key]
	return ok
}

// pushFront inserts key at the most-recent end. inserting a key which is
// already present is a no-op
func (c *recencyList) pushFront(key FrameID) {
	if c.size == c.capacity {
		panic("recencyList::pushFront capacity is full")
	}
	if _, ok := c.supportMap[key]; ok {
		return
	}

	newNode := &node{key, nil, nil}
	if c.size == 0 {
		c.head = newNode
		c.tail = newNode
		c.size++
		c.supportMap[key] = newNode
		return
	}

	newNode.next = c.head
	c.head.prev = newNode
	c.head = newNode

	c.size++
	c.supportMap[key] = newNode
}

// popBack removes and returns the key at the least-recent end, or nil when
// the list is empty
func (c *recencyList) popBack() *FrameID {
	if c.size == 0 {
		return nil
	}

	key := c.tail.key
	c.remove(key)
	return &key
}

func (c *recencyList) remove(key FrameID) {
	nd, ok := c.supportMap[key]
	if !ok {
		return
	}

	if c.size == 1 {
		c.head = nil
		c.tail = nil
		c.size--
		delete(c.supportMap, key)
		return
	}

	if nd == c.head {
		c.head = nd.next
		c.head.prev = nil
	} else if nd == c.tail {
		c.tail = nd.prev
		c.tail.next = nil
	} else {
		nd.next.prev = nd.prev
		nd.prev.next = nd.next
	}

	c.size--
	delete(c.supportMap, key)
}

func (c *recencyList) isFull() bool {
	return c.size == c.capacity
}

func (c *recencyList) Print() {
	if c.size == 0 {
		fmt.Println("recencyList is empty.")
		return
	}
	ptr := c.head
	printStr := fmt.Sprintf("recencyList size:%d supportMap len:%d |", c.size, len(c.supportMap))
	for i := uint32(0); i < c.size; i++ {
		printStr += fmt.Sprintf("-%v-", ptr.key)
		ptr = ptr.next
	}
	fmt.Println(printStr)
}

func newRecencyList(maxSize uint32) *recencyList {
	return &recencyList{nil, nil, 0, maxSize, make(map[FrameID]*node)}
}
