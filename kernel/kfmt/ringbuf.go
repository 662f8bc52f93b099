package kfmt

import "io"

// earlyBufSize is the capacity of the early output buffer. It must be a
// power of 2.
const earlyBufSize = 4096

// ringBuffer keeps the most recent earlyBufSize bytes written to it. Once
// full, each new byte overwrites the oldest one.
type ringBuffer struct {
	data       [earlyBufSize]byte
	head, size int
}

// Write appends p to the buffer, discarding the oldest bytes when needed.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[(rb.head+rb.size)&(earlyBufSize-1)] = b
		if rb.size == earlyBufSize {
			rb.head = (rb.head + 1) & (earlyBufSize - 1)
		} else {
			rb.size++
		}
	}

	return len(p), nil
}

// Read drains up to len(p) of the oldest buffered bytes into p. It returns
// io.EOF once the buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.size == 0 {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && rb.size > 0 {
		p[n] = rb.data[rb.head]
		rb.head = (rb.head + 1) & (earlyBufSize - 1)
		rb.size--
		n++
	}

	return n, nil
}

// Len returns the number of buffered bytes.
func (rb *ringBuffer) Len() int {
	return rb.size
}
