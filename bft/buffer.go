package bft

import (
	"github.com/canopy-network/accord/lib"
)

// FutureBuffer holds messages for heights the node hasn't reached yet, up to a fixed number of messages
type FutureBuffer struct {
	max      int
	size     int
	messages map[uint64][]*lib.Message // [height] -> messages in arrival order
}

// NewFutureBuffer() creates a buffer that holds at most max messages
func NewFutureBuffer(max int) *FutureBuffer {
	return &FutureBuffer{max: max, messages: make(map[uint64][]*lib.Message)}
}

// Add() stores the message, returning false if the buffer is full
func (b *FutureBuffer) Add(msg *lib.Message) bool {
	if b.size >= b.max {
		return false
	}
	h := msg.Height()
	b.messages[h] = append(b.messages[h], msg)
	b.size++
	return true
}

// Take() removes and returns the messages for height, discarding any for lower heights
func (b *FutureBuffer) Take(height uint64) []*lib.Message {
	for h, msgs := range b.messages {
		if h < height {
			b.size -= len(msgs)
			delete(b.messages, h)
		}
	}
	msgs := b.messages[height]
	b.size -= len(msgs)
	delete(b.messages, height)
	return msgs
}

// Len() returns the number of buffered messages
func (b *FutureBuffer) Len() int { return b.size }
