// Package workload supplies the external transaction bodies spec.md
// treats as out of scope (§1: "the specific transaction bodies...are
// treated as external"): a read-modify-write counter, a read-only probe,
// and a SmallBank-style balance transfer, plus the uniform/Zipf key
// generators in keygen.go. These exist so the engine's tests and
// cmd/hekad have something concrete to run; they are not part of the
// core's contract, only implementations of it (internal/txapi.Transaction).
package workload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/squidgetx/hekastore/internal/clock"
	"github.com/squidgetx/hekastore/internal/txapi"
)

// Type ids for the built-in transaction bodies. Registered out-of-band
// per §6; zero is reserved ("a stable, registered, non-zero type id").
const (
	TypeRMW       uint32 = 1
	TypeReadOnly  uint32 = 2
	TypeSmallBank uint32 = 3
)

// ErrInsufficientFunds names the condition under which a SmallBankTxn's
// now-phase aborts a transfer that would overdraw the source account.
// The now-phase itself only returns false; nothing in this package
// returns or records this error.
var ErrInsufficientFunds = errors.New("workload: insufficient funds for transfer")

// RegisterBuiltins wires every built-in transaction type's deserializer
// into registry, the way cmd/hekad's startup path does before opening
// the log for replay.
func RegisterBuiltins(registry *txapi.Registry) {
	registry.Register(TypeRMW, DeserializeRMW)
	registry.Register(TypeReadOnly, DeserializeReadOnly)
	registry.Register(TypeSmallBank, DeserializeSmallBank)
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readInt64(r io.Reader) (int64, error) {
	u, err := readUint64(r)
	return int64(u), err
}

// RMWTxn reads an 8-byte little-endian counter at Key, adds Delta, and
// writes the result back. The read-modify-write workload setup_hek.cc
// drives against a single table to contend on a small key range.
type RMWTxn struct {
	Table uint32
	Key   uint64
	Delta int64

	// Result is populated by NowPhase for tests/diagnostics; it is not
	// serialized.
	Result int64
}

func (t *RMWTxn) Type() uint32      { return TypeRMW }
func (t *RMWTxn) IsReadOnly() bool  { return false }

func (t *RMWTxn) Serialize(w io.Writer) error {
	var buf [4 + 8 + 8]byte
	binary.LittleEndian.PutUint32(buf[0:4], t.Table)
	binary.LittleEndian.PutUint64(buf[4:12], t.Key)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(t.Delta))
	_, err := w.Write(buf[:])
	return err
}

// DeserializeRMW reconstructs an RMWTxn from the exact-length byte
// source the log framing hands it (§6: "reconstructs state from an
// exact-length byte source").
func DeserializeRMW(r io.Reader) (txapi.Transaction, error) {
	table, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("workload: RMWTxn table: %w", err)
	}
	key, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("workload: RMWTxn key: %w", err)
	}
	delta, err := readInt64(r)
	if err != nil {
		return nil, fmt.Errorf("workload: RMWTxn delta: %w", err)
	}
	return &RMWTxn{Table: table, Key: key, Delta: delta}, nil
}

func (t *RMWTxn) NowPhase(ctx txapi.Context) bool {
	k := clock.CompositeKey{TableID: t.Table, Key: t.Key}
	var cur int64
	if raw, ok, err := ctx.Read(k); err == nil && ok && len(raw) >= 8 {
		cur = int64(binary.LittleEndian.Uint64(raw))
	}
	t.Result = cur + t.Delta

	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], uint64(t.Result))
	return ctx.Write(k, v[:]) == nil
}

func (t *RMWTxn) LaterPhase(ctx txapi.Context) {}

// ReadOnlyTxn reads a fixed list of keys from one table and records
// whichever values it saw in Results, suppressing any later-phase write
// (is_readonly per §6 elides it from the log).
type ReadOnlyTxn struct {
	Table uint32
	Keys  []uint64

	Results map[uint64][]byte
}

func (t *ReadOnlyTxn) Type() uint32     { return TypeReadOnly }
func (t *ReadOnlyTxn) IsReadOnly() bool { return true }

func (t *ReadOnlyTxn) Serialize(w io.Writer) error {
	var hdr [4 + 4]byte
	binary.LittleEndian.PutUint32(hdr[0:4], t.Table)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(t.Keys)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, k := range t.Keys {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], k)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeReadOnly exists to satisfy txapi.Deserializer's shape; a
// read-only transaction never appears in the log (§4.4), so it is never
// actually invoked during replay, but a registered type must still be
// able to round-trip for in-memory testing (§8 round-trip property).
func DeserializeReadOnly(r io.Reader) (txapi.Transaction, error) {
	table, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("workload: ReadOnlyTxn table: %w", err)
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("workload: ReadOnlyTxn count: %w", err)
	}
	keys := make([]uint64, n)
	for i := range keys {
		k, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("workload: ReadOnlyTxn key %d: %w", i, err)
		}
		keys[i] = k
	}
	return &ReadOnlyTxn{Table: table, Keys: keys}, nil
}

func (t *ReadOnlyTxn) NowPhase(ctx txapi.Context) bool {
	t.Results = make(map[uint64][]byte, len(t.Keys))
	for _, k := range t.Keys {
		val, ok, err := ctx.Read(clock.CompositeKey{TableID: t.Table, Key: k})
		if err != nil {
			return false
		}
		if ok {
			t.Results[k] = val
		}
	}
	return true
}

func (t *ReadOnlyTxn) LaterPhase(ctx txapi.Context) {}

// SmallBankTxn moves Amount from balance at FromKey to balance at ToKey
// within one table, aborting in now-phase if the source balance can't
// cover it — the SmallBank workload spec.md's §1 names as an external
// collaborator transaction body.
type SmallBankTxn struct {
	Table   uint32
	FromKey uint64
	ToKey   uint64
	Amount  int64
}

// NewSmallBankTransfer builds a SmallBankTxn moving amount between two
// distinct accounts drawn from gen, using uniqueKeys so FromKey and ToKey
// never collide (a self-transfer would be a correct but meaningless
// no-op net of the two writes).
func NewSmallBankTransfer(gen KeyGenerator, table uint32, amount int64) *SmallBankTxn {
	keys := uniqueKeys(gen, 2)
	return &SmallBankTxn{Table: table, FromKey: keys[0], ToKey: keys[1], Amount: amount}
}

func (t *SmallBankTxn) Type() uint32     { return TypeSmallBank }
func (t *SmallBankTxn) IsReadOnly() bool { return false }

func (t *SmallBankTxn) Serialize(w io.Writer) error {
	var buf [4 + 8 + 8 + 8]byte
	binary.LittleEndian.PutUint32(buf[0:4], t.Table)
	binary.LittleEndian.PutUint64(buf[4:12], t.FromKey)
	binary.LittleEndian.PutUint64(buf[12:20], t.ToKey)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(t.Amount))
	_, err := w.Write(buf[:])
	return err
}

// DeserializeSmallBank reconstructs a SmallBankTxn for replay.
func DeserializeSmallBank(r io.Reader) (txapi.Transaction, error) {
	table, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("workload: SmallBankTxn table: %w", err)
	}
	from, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("workload: SmallBankTxn from: %w", err)
	}
	to, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("workload: SmallBankTxn to: %w", err)
	}
	amount, err := readInt64(r)
	if err != nil {
		return nil, fmt.Errorf("workload: SmallBankTxn amount: %w", err)
	}
	return &SmallBankTxn{Table: table, FromKey: from, ToKey: to, Amount: amount}, nil
}

func balanceOf(ctx txapi.Context, table uint32, key uint64) (int64, error) {
	raw, ok, err := ctx.Read(clock.CompositeKey{TableID: table, Key: key})
	if err != nil {
		return 0, err
	}
	if !ok || len(raw) < 8 {
		return 0, nil
	}
	return int64(binary.LittleEndian.Uint64(raw)), nil
}

func (t *SmallBankTxn) NowPhase(ctx txapi.Context) bool {
	from, err := balanceOf(ctx, t.Table, t.FromKey)
	if err != nil {
		return false
	}
	if from < t.Amount {
		return false
	}
	to, err := balanceOf(ctx, t.Table, t.ToKey)
	if err != nil {
		return false
	}

	var fromBuf, toBuf [8]byte
	binary.LittleEndian.PutUint64(fromBuf[:], uint64(from-t.Amount))
	binary.LittleEndian.PutUint64(toBuf[:], uint64(to+t.Amount))

	fromKey := clock.CompositeKey{TableID: t.Table, Key: t.FromKey}
	toKey := clock.CompositeKey{TableID: t.Table, Key: t.ToKey}
	if err := ctx.Write(fromKey, fromBuf[:]); err != nil {
		return false
	}
	if err := ctx.Write(toKey, toBuf[:]); err != nil {
		return false
	}
	return true
}

func (t *SmallBankTxn) LaterPhase(ctx txapi.Context) {}
