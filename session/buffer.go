package session

// Buffer is a fixed-capacity byte buffer with separate write and read
// cursors. It backs the session receive path: the unframer appends
// unescaped payload bytes, the session reads the header off the front,
// and the message callback consumes the remainder.
type Buffer struct {
	data []byte
	head int
	tail int
}

// NewBuffer allocates a buffer holding up to capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Write appends data, copying at most the free capacity. It returns the
// number of bytes copied; a short count means the buffer is full.
func (b *Buffer) Write(data []byte) int {
	n := copy(b.data[b.tail:], data)
	b.tail += n
	return n
}

// Read copies buffered bytes into out, advancing the read cursor, and
// returns the number of bytes copied.
func (b *Buffer) Read(out []byte) int {
	if b.head >= b.tail {
		return 0
	}
	n := copy(out, b.data[b.head:b.tail])
	b.head += n
	return n
}

// Size returns the total number of bytes written since the last Clear.
func (b *Buffer) Size() int {
	return b.tail
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return b.tail - b.head
}

// Bytes returns the unread portion of the buffer. The slice aliases the
// buffer's storage and is invalidated by Clear.
func (b *Buffer) Bytes() []byte {
	return b.data[b.head:b.tail]
}

// Clear resets both cursors, discarding all buffered data.
func (b *Buffer) Clear() {
	b.head = 0
	b.tail = 0
}
