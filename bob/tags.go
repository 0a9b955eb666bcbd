package bob

const (
	tagUndefined   byte = 0x00
	tagNull        byte = 0x30 // '0'
	tagStringRef   byte = 0x53 // 'S'
	tagString      byte = 0x24 // '$'
	tagDouble      byte = 0x44 // 'D'
	tagTrue        byte = 0x54 // 'T'
	tagFalse       byte = 0x46 // 'F'
	tagObjectRef   byte = 0x4F // 'O'
	tagArray       byte = 0x5B // '['
	tagMap         byte = 0x7B // '{'
	tagSparseArray byte = 0x2E // '.'
)
