package hashrange

// jenkinsOneAtATime32 is the Jenkins one-at-a-time hash, using the exact
// arithmetic of the original implementation: for every byte, hash +=
// byte; hash += hash<<10; hash ^= hash>>6; then a final avalanche of
// hash += hash<<3; hash ^= hash>>11; hash += hash<<15.
func jenkinsOneAtATime32(b []byte) uint32 {
	var h uint32
	for _, c := range b {
		h += uint32(c)
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}

// Hash maps an arbitrary byte string onto the 64-bit hash range by running
// the documented 32-bit Jenkins one-at-a-time hash twice — once over b as
// given (low 32 bits) and once over b reversed (high 32 bits) — so the
// result is wide enough for a 64-bit range while remaining fully
// reproducible from the one documented 32-bit algorithm.
func Hash(b []byte) Uint64HashRange {
	lo := jenkinsOneAtATime32(b)

	rev := make([]byte, len(b))
	for i, c := range b {
		rev[len(b)-1-i] = c
	}
	hi := jenkinsOneAtATime32(rev)

	return Uint64HashRange(uint64(hi)<<32 | uint64(lo))
}
