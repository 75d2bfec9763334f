package zigzag

// NOTE(blukai): this is stolen from valve's tier1/bitbuf.h

// ZigZag maps signed integers onto unsigned ones so that values with a small
// absolute value stay small. Player ids and counts go through it on the wire.
//
//       int32 ->     uint32
// -------------------------
//           0 ->          0
//          -1 ->          1
//           1 ->          2
//          -2 ->          3
//         ... ->        ...
//  2147483647 -> 4294967294
// -2147483648 -> 4294967295

func Encode32(n int32) uint32 {
	return uint32((n << 1) ^ (n >> 31))
}

func Decode32(n uint32) int32 {
	return int32(n>>1) ^ -int32(n&1)
}
