package pd0

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"example.com/pd0gate/internal/common"
)

const (
	fixedLeaderSlot    = 1
	variableLeaderSlot = 2
)

var (
	fixedLeaderIDs    = []uint16{0x0000, 0x0001}
	variableLeaderIDs = []uint16{0x0080, 0x0081}
)

// FixedLeaderTable holds one Fixed Leader per decoded ensemble.
type FixedLeaderTable struct {
	Rows []FixedLeader `json:"rows"`
	// SerialMissing is set when the instrument firmware predates the serial
	// number block; those columns are zeroed in every row.
	SerialMissing bool `json:"serialMissing"`
}

// Len returns the number of rows.
func (t *FixedLeaderTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// MaxBeams returns the largest beam count over all rows.
func (t *FixedLeaderTable) MaxBeams() int {
	m := 0
	for _, r := range t.Rows {
		m = max(m, int(r.Beams))
	}
	return m
}

// MaxCells returns the largest cell count over all rows.
func (t *FixedLeaderTable) MaxCells() int {
	m := 0
	for _, r := range t.Rows {
		m = max(m, int(r.Cells))
	}
	return m
}

// VariableLeaderTable holds one Variable Leader per decoded ensemble.
type VariableLeaderTable struct {
	Rows []VariableLeader `json:"rows"`
}

// Len returns the number of rows.
func (t *VariableLeaderTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// DecodeFixedLeader decodes slot 1 of every ensemble. A nil idx makes the
// function index src itself.
func DecodeFixedLeader(src ByteSource, idx *Index, opts Options) (*FixedLeaderTable, Health) {
	return NewDecoder(src, opts).FixedLeader(context.Background(), idx)
}

// DecodeVariableLeader decodes slot 2 of every ensemble. A nil idx makes the
// function index src itself.
func DecodeVariableLeader(src ByteSource, idx *Index, opts Options) (*VariableLeaderTable, Health) {
	return NewDecoder(src, opts).VariableLeader(context.Background(), idx)
}

// FixedLeader decodes the Fixed Leader of every ensemble in idx.
func (d *Decoder) FixedLeader(ctx context.Context, idx *Index) (*FixedLeaderTable, Health) {
	idx, idxHealth, built := d.resolveIndex(ctx, idx)
	rows := make([]FixedLeader, idx.Len())
	h := forEachEnsemble(ctx, len(rows), d.opts.workers(), func(i int) (Health, bool) {
		b, h, ok := readLeader(d.src, idx.Ensembles[i], i, fixedLeaderSlot, fixedLeaderIDs, FixedLeaderSize)
		if !ok {
			return h, false
		}
		if err := rows[i].UnmarshalBinary(b); err != nil {
			return corruptedAt(i, err.Error()), false
		}
		return Health{}, true
	})
	table := &FixedLeaderTable{Rows: rows[:h.Ensembles]}
	table.clearOldFirmwareSerials()
	if built {
		h = preferIndexHealth(h, idxHealth)
	}
	return table, h
}

// VariableLeader decodes the Variable Leader of every ensemble in idx.
func (d *Decoder) VariableLeader(ctx context.Context, idx *Index) (*VariableLeaderTable, Health) {
	idx, idxHealth, built := d.resolveIndex(ctx, idx)
	rows := make([]VariableLeader, idx.Len())
	h := forEachEnsemble(ctx, len(rows), d.opts.workers(), func(i int) (Health, bool) {
		b, h, ok := readLeader(d.src, idx.Ensembles[i], i, variableLeaderSlot, variableLeaderIDs, VariableLeaderSize)
		if !ok {
			return h, false
		}
		if err := rows[i].UnmarshalBinary(b); err != nil {
			return corruptedAt(i, err.Error()), false
		}
		return Health{}, true
	})
	table := &VariableLeaderTable{Rows: rows[:h.Ensembles]}
	if built {
		h = preferIndexHealth(h, idxHealth)
	}
	return table, h
}

// clearOldFirmwareSerials zeroes the serial block of every row when any CPU
// board serial does not fit a signed 64-bit integer.
func (t *FixedLeaderTable) clearOldFirmwareSerials() {
	for _, r := range t.Rows {
		if r.CPUBoardSerial > math.MaxInt64 {
			t.SerialMissing = true
			break
		}
	}
	if !t.SerialMissing {
		return
	}
	common.Logf("CPU board serial number block missing; firmware likely predates it, %d rows cleared", len(t.Rows))
	for i := range t.Rows {
		t.Rows[i].clearSerialBlock()
	}
}

// readLeader returns the size bytes of the block at slot, starting at its ID.
func readLeader(src ByteSource, d EnsembleDescriptor, i, slot int, ids []uint16, size int) ([]byte, Health, bool) {
	off, ok := d.BlockOffset(slot)
	if !ok {
		return nil, unavailableAt(i, len(d.Blocks), slot), false
	}
	b, err := readExact(src, off, size)
	if err != nil {
		return nil, readFailure(i, err), false
	}
	if id := binary.LittleEndian.Uint16(b); !containsID(ids, id) {
		return nil, corruptedAt(i, fmt.Sprintf("%s expected in slot %d, found ID 0x%04X", BlockName(ids[0]), slot, id)), false
	}
	return b, Health{}, true
}

func containsID(ids []uint16, id uint16) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// preferIndexHealth reports the index fault when the decode over the
// indexed prefix itself succeeded.
func preferIndexHealth(decode, index Health) Health {
	if decode.Condition == Healthy && index.Condition != Healthy {
		return index
	}
	return decode
}
