package workload

import "math/rand"

// KeyGenerator draws keys from a fixed-size key space [0, numRecords), the
// way setup_hek.cc's RecordGenerator subclasses (UniformGenerator,
// ZipfGenerator) drive YCSB-style transaction generation.
type KeyGenerator interface {
	Next() uint64
}

// UniformGenerator draws keys uniformly at random over the key space.
type UniformGenerator struct {
	rnd *rand.Rand
	n   uint64
}

// NewUniformGenerator builds a generator over [0, numRecords).
func NewUniformGenerator(numRecords uint64, seed int64) *UniformGenerator {
	return &UniformGenerator{rnd: rand.New(rand.NewSource(seed)), n: numRecords}
}

// Next returns a uniformly distributed key.
func (g *UniformGenerator) Next() uint64 {
	return uint64(g.rnd.Int63n(int64(g.n)))
}

// ZipfGenerator draws keys from a Zipfian distribution, skewing toward a
// small set of hot keys the way setup_hek.cc's ZipfGenerator models
// contended workloads.
type ZipfGenerator struct {
	z *rand.Zipf
}

// NewZipfGenerator builds a generator over [0, numRecords) with skew
// parameter theta (must be > 1.0; larger values are more skewed toward
// the lowest keys).
func NewZipfGenerator(numRecords uint64, theta float64, seed int64) *ZipfGenerator {
	rnd := rand.New(rand.NewSource(seed))
	return &ZipfGenerator{z: rand.NewZipf(rnd, theta, 1.0, numRecords-1)}
}

// Next returns a Zipfian-distributed key.
func (g *ZipfGenerator) Next() uint64 {
	return g.z.Uint64()
}

// uniqueKeys draws n distinct keys from gen, matching GenUniqueKey's
// retry-on-collision behavior in setup_hek.cc. It is used wherever a
// transaction body needs guaranteed-distinct keys, e.g. NewSmallBankTransfer's
// from/to accounts.
func uniqueKeys(gen KeyGenerator, n int) []uint64 {
	seen := make(map[uint64]struct{}, n)
	keys := make([]uint64, 0, n)
	for len(keys) < n {
		k := gen.Next()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
