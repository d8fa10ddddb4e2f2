package queue

// DefaultPartSize is the byte length of every part except the last.
const DefaultPartSize int64 = 1 << 20

// Part is a contiguous byte range of a chunked file.
type Part struct {
	Index  int
	Offset int64
	Length int64
}

// PartCount returns ceil(size/partSize). Unknown or empty sizes have no parts.
func PartCount(size, partSize int64) int {
	if size <= 0 || partSize <= 0 {
		return 0
	}
	return int((size + partSize - 1) / partSize)
}

// PartAt computes the part at index. The final part is clamped to the
// remaining bytes. ok is false when index is out of range.
func PartAt(size, partSize int64, index int) (part Part, ok bool) {
	count := PartCount(size, partSize)
	if index < 0 || index >= count {
		return Part{}, false
	}
	offset := int64(index) * partSize
	length := partSize
	if offset+length > size {
		length = size - offset
	}
	return Part{Index: index, Offset: offset, Length: length}, true
}

// Parts lists every part of a file of the given size.
func Parts(size, partSize int64) []Part {
	count := PartCount(size, partSize)
	parts := make([]Part, 0, count)
	for i := 0; i < count; i++ {
		part, _ := PartAt(size, partSize, i)
		parts = append(parts, part)
	}
	return parts
}

// Last reports whether p is the final part of a file with count parts.
func (p Part) Last(count int) bool {
	return p.Index == count-1
}
