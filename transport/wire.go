// Copyright 2016 Aleksandr Demakin. All rights reserved.

package transport

import "encoding/binary"

// Every slot a Transport pushes carries a small fixed header ahead of its
// data, tagging how to decode the rest: the spec's "first few bytes encode
// a remaining-length tag" made concrete. Fields a/b are repurposed per kind
// rather than given a name each, since their meaning only makes sense
// together with kind:
//
//	kindInline:       a, b unused.
//	kindSegmentFirst: a = assembly id, b = bytes remaining after this segment.
//	kindSegmentCont:  a = assembly id, b = bytes remaining after this segment.
//	kindPoolRef:      a = LargeMsgPool chunk id, b = full message length N.
const wireHeaderSize = 9

const (
	kindInline       uint8 = 0
	kindSegmentFirst uint8 = 1
	kindSegmentCont  uint8 = 2
	kindPoolRef      uint8 = 3
)

func encodeHeader(buf []byte, kind uint8, a, b uint32) {
	buf[0] = kind
	binary.LittleEndian.PutUint32(buf[1:5], a)
	binary.LittleEndian.PutUint32(buf[5:9], b)
}

func decodeHeader(buf []byte) (kind uint8, a, b uint32) {
	kind = buf[0]
	a = binary.LittleEndian.Uint32(buf[1:5])
	b = binary.LittleEndian.Uint32(buf[5:9])
	return
}
