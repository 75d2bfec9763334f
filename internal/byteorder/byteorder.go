package byteorder

import (
	"encoding/binary"
)

// https://linux.die.net/man/3/ntohs

// decrypt names:
// h  = host
// n  = network
// s  = short     = 16 bit
// l  = long      = 32 bit
// ll = long long = 64 bit
//
// Put* variants append to dst.

func PutHtons(dst []byte, val uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, val)
}

func PutHtonl(dst []byte, val uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, val)
}

func PutHtonll(dst []byte, val uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, val)
}

func Ntohs(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

func Ntohll(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}
