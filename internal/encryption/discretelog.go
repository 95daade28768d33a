// discretelog.go - Bounded discrete-log decoding for decrypted amounts.
//
// Decryption leaves x·G. x is recovered with baby-step giant-step: a table of
// j·G for j < 2^16 is built once by NewDecoder, and the search walks giant
// steps of 2^16·G, converting points to affine coordinates in batches.

package encryption

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"golang.org/x/sync/errgroup"
)

const (
	babyStepBits = 16
	babySteps    = 1 << babyStepBits

	// DefaultWindowBits bounds DiscreteLog.Decode to values below 2^36.
	DefaultWindowBits = 36
	// MaxWindowBits is the largest supported search window.
	MaxWindowBits = 48

	searchBatch = 1 << 10
)

var (
	// ErrRangeExceeded is returned by DecryptU32 when the amount is not below 2^32.
	ErrRangeExceeded = errors.New("decrypted amount exceeds the 32-bit decoding range")
	// ErrUnresolvedDiscreteLog is returned when the amount lies outside the decoder window.
	ErrUnresolvedDiscreteLog = errors.New("discrete log not found within the search window")

	errFound = errors.New("found")
)

// Decoder holds the baby-step table. It is immutable after construction and
// safe for concurrent use; build it once at process start.
type Decoder struct {
	table       map[[PointSize]byte]uint32
	negGiant    bn254.G1Jac
	negGiantAff bn254.G1Affine
	windowBits  uint
	workers     int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithWindowBits sets the search window of DiscreteLog.Decode.
// Values are clamped to [32, MaxWindowBits].
func WithWindowBits(bits uint) DecoderOption {
	return func(d *Decoder) {
		if bits < 32 {
			bits = 32
		}
		if bits > MaxWindowBits {
			bits = MaxWindowBits
		}
		d.windowBits = bits
	}
}

// WithWorkers sets the number of goroutines used by DiscreteLog.Decode.
func WithWorkers(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.workers = n
		}
	}
}

// NewDecoder builds the baby-step table.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		table:      make(map[[PointSize]byte]uint32, babySteps),
		windowBits: DefaultWindowBits,
		workers:    runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(d)
	}

	var g bn254.G1Jac
	g.FromAffine(&G)
	steps := make([]bn254.G1Jac, babySteps)
	var acc bn254.G1Jac
	acc.FromAffine(&bn254.G1Affine{})
	for j := range steps {
		steps[j] = acc
		acc.AddAssign(&g)
	}
	for j, p := range bn254.BatchJacobianToAffineG1(steps) {
		d.table[p.Bytes()] = uint32(j)
	}

	giant := ScalarFromUint64(babySteps)
	m := MulPoint(&G, &giant)
	d.negGiantAff.Neg(&m)
	d.negGiant.FromAffine(&d.negGiantAff)
	return d
}

// WindowBits returns the search window of Decode.
func (d *Decoder) WindowBits() uint {
	return d.windowBits
}

// search walks count giant steps starting at start·2^16 and reports the
// decoded value if target is in that band.
func (d *Decoder) search(ctx context.Context, target bn254.G1Affine, start, count uint64) (uint64, bool) {
	var cur bn254.G1Jac
	cur.FromAffine(&target)
	if start > 0 {
		s := ScalarFromUint64(start)
		offAff := MulPoint(&d.negGiantAff, &s)
		var off bn254.G1Jac
		off.FromAffine(&offAff)
		cur.AddAssign(&off)
	}

	batch := make([]bn254.G1Jac, searchBatch)
	for done := uint64(0); done < count; {
		if ctx.Err() != nil {
			return 0, false
		}
		n := uint64(searchBatch)
		if count-done < n {
			n = count - done
		}
		for k := uint64(0); k < n; k++ {
			batch[k] = cur
			cur.AddAssign(&d.negGiant)
		}
		for k, p := range bn254.BatchJacobianToAffineG1(batch[:n]) {
			if j, ok := d.table[p.Bytes()]; ok {
				return (start+done+uint64(k))<<babyStepBits + uint64(j), true
			}
		}
		done += n
	}
	return 0, false
}

// DiscreteLog is a decrypted amount still in the exponent: Target = x·G.
type DiscreteLog struct {
	Target bn254.G1Affine
}

// DecodeU32 recovers x when x < 2^32.
func (dl *DiscreteLog) DecodeU32(d *Decoder) (uint64, error) {
	v, ok := d.search(context.Background(), dl.Target, 0, 1<<(32-babyStepBits))
	if !ok {
		return 0, ErrRangeExceeded
	}
	return v, nil
}

// Decode recovers x within the decoder window, splitting the giant steps
// across worker goroutines.
func (dl *DiscreteLog) Decode(d *Decoder) (uint64, error) {
	return dl.DecodeContext(context.Background(), d)
}

// DecodeContext is Decode with cancellation.
func (dl *DiscreteLog) DecodeContext(ctx context.Context, d *Decoder) (uint64, error) {
	total := uint64(1) << (d.windowBits - babyStepBits)
	workers := uint64(d.workers)
	if workers > total {
		workers = total
	}
	chunk := (total + workers - 1) / workers

	var result atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	for w := uint64(0); w < workers; w++ {
		start := w * chunk
		if start >= total {
			break
		}
		count := chunk
		if start+count > total {
			count = total - start
		}
		g.Go(func() error {
			if v, ok := d.search(gctx, dl.Target, start, count); ok {
				result.Store(v)
				return errFound
			}
			return nil
		})
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errFound):
		return result.Load(), nil
	case ctx.Err() != nil:
		return 0, ctx.Err()
	default:
		return 0, ErrUnresolvedDiscreteLog
	}
}
