package pd0

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"example.com/pd0gate/internal/common"
)

// ArrayKind selects one of the per-cell profile blocks.
type ArrayKind int

const (
	Velocity ArrayKind = iota
	Correlation
	Echo
	PercentGood
	Status
)

// ArrayKinds lists every kind in slot order.
var ArrayKinds = []ArrayKind{Velocity, Correlation, Echo, PercentGood, Status}

type arrayLayout struct {
	name   string
	slot   int
	ids    []uint16
	width  int
	signed bool
	fill   int16
}

var arrayLayouts = [...]arrayLayout{
	Velocity:    {name: "velocity", slot: 3, ids: []uint16{0x0100, 0x0101}, width: 2, signed: true, fill: -32768},
	Correlation: {name: "correlation", slot: 4, ids: []uint16{0x0200, 0x0201}, width: 1},
	Echo:        {name: "echo", slot: 5, ids: []uint16{0x0300, 0x0301}, width: 1},
	PercentGood: {name: "percent-good", slot: 6, ids: []uint16{0x0400, 0x0401}, width: 1},
	// Older firmware tags the status block with the percent-good IDs.
	Status: {name: "status", slot: 7, ids: []uint16{0x0500, 0x0501, 0x0400, 0x0401}, width: 1},
}

// sample converts sample k of a block body. Two-byte samples keep their
// bit pattern; one-byte samples widen as int8 or uint8.
func (l arrayLayout) sample(b []byte, k int) int16 {
	switch {
	case l.width == 2:
		return int16(binary.LittleEndian.Uint16(b[2*k:]))
	case l.signed:
		return int16(int8(b[k]))
	default:
		return int16(b[k])
	}
}

func (k ArrayKind) valid() bool {
	return k >= 0 && int(k) < len(arrayLayouts)
}

func (k ArrayKind) layout() arrayLayout {
	return arrayLayouts[k]
}

func (k ArrayKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("array-kind(%d)", int(k))
	}
	return k.layout().name
}

// MarshalText renders the kind by name in JSON output.
func (k ArrayKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Slot is the 1-based position of the block inside an ensemble.
func (k ArrayKind) Slot() int { return k.layout().slot }

// SampleWidth is the number of bytes per sample.
func (k ArrayKind) SampleWidth() int { return k.layout().width }

// Signed reports whether samples are two's-complement.
func (k ArrayKind) Signed() bool { return k.layout().signed }

// Fill is the value of samples the ensemble did not carry.
func (k ArrayKind) Fill() int16 { return k.layout().fill }

// Accepts reports whether id is a valid block ID for the kind.
func (k ArrayKind) Accepts(id uint16) bool {
	return k.valid() && containsID(k.layout().ids, id)
}

// ParseArrayKind maps a name such as "velocity" or "percent-good" to its
// kind.
func ParseArrayKind(s string) (ArrayKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	if s == "percentgood" || s == "pg" {
		s = "percent-good"
	}
	for _, k := range ArrayKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown array kind %q", s)
}

// ArrayBlock is a dense beams × cells × ensembles cube. Slots an ensemble
// did not populate hold Kind.Fill().
type ArrayBlock struct {
	Kind      ArrayKind `json:"kind"`
	Beams     int       `json:"beams"`
	Cells     int       `json:"cells"`
	Ensembles int       `json:"ensembles"`
	// Data is ensemble-major: ensemble e occupies
	// Data[e*Beams*Cells : (e+1)*Beams*Cells], beam-major within it.
	Data []int16 `json:"-"`
}

func (a *ArrayBlock) stride() int {
	return a.Beams * a.Cells
}

// At returns the sample for beam b, cell c of ensemble e.
func (a *ArrayBlock) At(b, c, e int) int16 {
	return a.Data[e*a.stride()+b*a.Cells+c]
}

// Ensemble returns the beams × cells samples of ensemble e, beam-major.
func (a *ArrayBlock) Ensemble(e int) []int16 {
	s := a.stride()
	return a.Data[e*s : (e+1)*s]
}

// Series returns beam b, cell c across all ensembles.
func (a *ArrayBlock) Series(b, c int) []int16 {
	out := make([]int16, a.Ensembles)
	for e := range out {
		out[e] = a.At(b, c, e)
	}
	return out
}

// Truncate drops every ensemble from n onwards.
func (a *ArrayBlock) Truncate(n int) {
	if n < 0 || n >= a.Ensembles {
		return
	}
	a.Ensembles = n
	a.Data = a.Data[:n*a.stride()]
}

// DecodeArray decodes one array kind for every ensemble. A nil idx or fixed
// is produced internally.
func DecodeArray(src ByteSource, idx *Index, fixed *FixedLeaderTable, kind ArrayKind, opts Options) (*ArrayBlock, Health) {
	return NewDecoder(src, opts).Array(context.Background(), idx, fixed, kind)
}

// Array decodes kind for every ensemble covered by both idx and fixed.
func (d *Decoder) Array(ctx context.Context, idx *Index, fixed *FixedLeaderTable, kind ArrayKind) (*ArrayBlock, Health) {
	if !kind.valid() {
		return nil, unknownIO(0, fmt.Errorf("unknown array kind %d", int(kind)))
	}
	idx, idxHealth, built := d.resolveIndex(ctx, idx)
	fixedHealth := healthy(fixed.Len())
	ownFixed := fixed == nil
	if ownFixed {
		fixed, fixedHealth = d.FixedLeader(ctx, idx)
	}

	lay := kind.layout()
	n := min(idx.Len(), fixed.Len())
	out := &ArrayBlock{
		Kind:      kind,
		Beams:     fixed.MaxBeams(),
		Cells:     fixed.MaxCells(),
		Ensembles: n,
	}
	stride := out.stride()
	out.Data = make([]int16, n*stride)
	if lay.fill != 0 {
		for i := range out.Data {
			out.Data[i] = lay.fill
		}
	}

	h := forEachEnsemble(ctx, n, d.opts.workers(), func(i int) (Health, bool) {
		desc := idx.Ensembles[i]
		off, ok := desc.BlockOffset(lay.slot)
		if !ok {
			return unavailableAt(i, len(desc.Blocks), lay.slot), false
		}
		beams, cells := int(fixed.Rows[i].Beams), int(fixed.Rows[i].Cells)
		b, err := readExact(d.src, off, 2+beams*cells*lay.width)
		if err != nil {
			return readFailure(i, err), false
		}
		if id := binary.LittleEndian.Uint16(b); !containsID(lay.ids, id) {
			return corruptedAt(i, fmt.Sprintf("%s expected in slot %d, found ID 0x%04X", kind, lay.slot, id)), false
		}
		dst := out.Data[i*stride : (i+1)*stride]
		samples := b[2:]
		for bm := 0; bm < beams; bm++ {
			for c := 0; c < cells; c++ {
				dst[bm*out.Cells+c] = lay.sample(samples, bm*cells+c)
			}
		}
		return Health{}, true
	})
	out.Truncate(h.Ensembles)

	if h.Condition == DataTypeUnavailable {
		common.Logf("%s unavailable from ensemble %d: %d data types present, slot %d needed", kind, h.At, h.Available, h.Requested)
	}
	if ownFixed {
		h = preferIndexHealth(h, fixedHealth)
	} else if h.Condition == Healthy && fixed.Len() < idx.Len() {
		h = corruptedAt(fixed.Len(), "no fixed leader row")
	}
	if built {
		h = preferIndexHealth(h, idxHealth)
	}
	return out, h
}
