package gossip

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"
)

// Filter is a decoded Golomb-Coded Set summary of packet IDs (§4.2). A
// requester builds one from the IDs it holds; a responder treats
// membership as "possibly has" — false positives are tolerated (they
// only suppress a send, self-healing on the next round); false
// negatives never occur by construction.
type Filter struct {
	P       uint32 // Golomb parameter: bits per bucket
	M       uint32 // modulus, 2^P (1 when empty)
	buckets []uint32
}

// DeriveP computes the Golomb parameter from a target false-positive
// rate: p = clamp(ceil(-log2(targetFPR)), 1, 32) (§4.2).
func DeriveP(targetFPR float64) uint32 {
	p := int(math.Ceil(-math.Log2(targetFPR)))
	if p < 1 {
		p = 1
	}
	if p > 32 {
		p = 32
	}
	return uint32(p)
}

// modulusFor returns 2^p, or 0 when p >= 32 (2^32 does not fit in a
// uint32). BucketHash and decodeDeltas treat m == 0 as no modulus
// bound.
func modulusFor(p uint32) uint32 {
	if p >= 32 {
		return 0 // 2^32 doesn't fit in uint32; treated as "no modulus bound" by callers
	}
	return uint32(1) << p
}

// NMax returns the maximum ID count representable within maxBytes at
// parameter p: floor((maxBytes*8) / p) (§4.2).
func NMax(maxBytes int, p uint32) int {
	if p == 0 {
		return 0
	}
	return (maxBytes * 8) / int(p)
}

// BucketHash maps a packet ID to its bucket: the big-endian uint32 of
// the first four bytes of SHA-256(id), mod m (§4.2). Implementations
// MUST match this exactly to stay wire-compatible.
func BucketHash(id ID, m uint32) uint32 {
	h := sha256.Sum256(id[:])
	v := binary.BigEndian.Uint32(h[:4])
	if m == 0 {
		return v
	}
	return v % m
}

// Build constructs a size-budgeted GCS filter from a sequence of packet
// IDs (§4.2). De-duplication is not required; duplicate buckets are
// tolerated as zero deltas.
func Build(ids []ID, maxBytes int, targetFPR float64) Filter {
	if len(ids) == 0 {
		return Filter{P: DeriveP(targetFPR), M: 1}
	}

	p := DeriveP(targetFPR)
	m := modulusFor(p)

	buckets := make([]uint32, len(ids))
	for i, id := range ids {
		buckets[i] = BucketHash(id, m)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	data := encodeDeltas(buckets, maxBytes)
	decoded := decodeDeltas(data, m)

	return Filter{P: p, M: m, buckets: decoded}
}

// encodeDeltas delta-encodes a sorted bucket sequence with the variable-
// length codec from §4.2 step 4, truncating to maxBytes without ever
// splitting a 2-byte delta across the cut (step 5).
func encodeDeltas(sorted []uint32, maxBytes int) []byte {
	out := make([]byte, 0, maxBytes)
	var prev uint32
	for i, b := range sorted {
		var delta uint32
		if i == 0 {
			delta = b
		} else {
			delta = b - prev
		}
		prev = b

		enc := encodeVarDelta(delta)
		if len(out)+len(enc) > maxBytes {
			break // drop the trailing partial delta rather than split it
		}
		out = append(out, enc...)
	}
	if len(out) > maxBytes {
		out = out[:maxBytes]
	}
	return out
}

// encodeVarDelta encodes a single delta: values <128 take one byte
// (0xxxxxxx); values >=128 take two bytes (1xxxxxxx holding the low 7
// bits, then the next 8 bits). This is the source's native scheme: it
// admits up to 15-bit deltas and silently truncates larger ones (§9).
func encodeVarDelta(delta uint32) []byte {
	if delta < 128 {
		return []byte{byte(delta)}
	}
	low := byte(delta&0x7f) | 0x80
	high := byte((delta >> 7) & 0xff)
	return []byte{low, high}
}

// decodeDeltas reverses the codec to a sorted bucket slice, discarding
// any reconstructed value that exceeds the modulus m (§4.2 Decode).
func decodeDeltas(data []byte, m uint32) []uint32 {
	var buckets []uint32
	var acc uint32
	i := 0
	for i < len(data) {
		b := data[i]
		var delta uint32
		if b&0x80 == 0 {
			delta = uint32(b)
			i++
		} else {
			if i+1 >= len(data) {
				break // truncated trailing 2-byte delta; stop decoding
			}
			low := uint32(b & 0x7f)
			high := uint32(data[i+1])
			delta = low | (high << 7)
			i += 2
		}
		acc += delta
		if m != 0 && acc >= m {
			continue // out-of-range bucket from truncation/corruption, discard
		}
		buckets = append(buckets, acc)
	}
	return buckets
}

// Decode parses a wire-format GCS payload (p, m, data) into a Filter
// ready for membership queries.
func Decode(p, m uint32, data []byte) Filter {
	return Filter{P: p, M: m, buckets: decodeDeltas(data, m)}
}

// Encode serializes the filter's bucket set back to the delta-coded
// wire representation, re-applying the maxBytes budget. Used by the
// engine when re-emitting a filter it built locally.
func (f Filter) Encode(maxBytes int) []byte {
	return encodeDeltas(f.buckets, maxBytes)
}

// Buckets returns the decoded, sorted bucket vector (read-only use by
// callers; the engine iterates this during reconciliation).
func (f Filter) Buckets() []uint32 {
	return f.buckets
}

// Contains reports whether bucket b is possibly present in the filter,
// via binary search over the sorted bucket vector (§4.2 Membership).
func (f Filter) Contains(b uint32) bool {
	n := len(f.buckets)
	i := sort.Search(n, func(i int) bool { return f.buckets[i] >= b })
	return i < n && f.buckets[i] == b
}

// ContainsID is a convenience wrapper hashing id into this filter's
// bucket space before testing membership.
func (f Filter) ContainsID(id ID) bool {
	return f.Contains(BucketHash(id, f.M))
}
