package memory_pool

// Block is a pooled byte buffer. A block handed out by Allocate is exclusively owned by the
// caller until it is passed back to Deallocate.
type Block struct {
	data   []byte
	size   int
	bucket int
	owner  *memoryPool
	inUse  bool
}

// Bytes returns the full backing buffer of the block. Its length is the bucket size, which
// is at least the size requested from Allocate.
func (b *Block) Bytes() []byte {
	return b.data
}

// Size returns the bucket size of the block in bytes.
func (b *Block) Size() int {
	return b.size
}

// Bucket returns the bucket index the block belongs to.
func (b *Block) Bucket() int {
	return b.bucket
}
