package clock

// CompositeKey pairs a table id with a per-table primary key. It is totally
// ordered lexicographically by (TableID, Key); equality ignores everything
// else (§3).
//
// §9 raises an open question about CompositeKey's hash (the source has two
// incompatible declarations, one a constant-0 stub). This implementation
// has no call site for a per-key hash at all: Table.slot addresses a
// key's slot directly by array index (§3: "a fixed-size array of slots,
// one per primary key"), and §9 separately rules consistent-hash worker
// routing out of scope ("workers are addressed by CPU id directly"). With
// neither consumer present, a Hash method would be dead code, so this type
// carries none — see DESIGN.md.
type CompositeKey struct {
	TableID uint32
	Key     uint64
}

// Less reports whether k sorts before other under (table_id, key) order.
func (k CompositeKey) Less(other CompositeKey) bool {
	if k.TableID != other.TableID {
		return k.TableID < other.TableID
	}
	return k.Key < other.Key
}

// Equal reports field-wise equality.
func (k CompositeKey) Equal(other CompositeKey) bool {
	return k.TableID == other.TableID && k.Key == other.Key
}
