package pd0

import (
	"encoding/binary"
	"fmt"
)

// EnsembleBuilder encodes one ensemble the way the instrument writes it:
// prologue, offset table, Fixed Leader, Variable Leader, then array blocks
// in slot order, followed by the checksum word.
type EnsembleBuilder struct {
	Fixed    FixedLeader
	Variable VariableLeader
	// Arrays holds Fixed.Beams × Fixed.Cells samples per kind, beam-major.
	// Every kind up to the highest one present gets a block; kinds without
	// samples are written as zeros.
	Arrays map[ArrayKind][]int16
	// ArrayIDs overrides the block ID written for a kind.
	ArrayIDs map[ArrayKind]uint16
	// ExtraBlocks are appended after the array blocks, each starting with
	// its own ID.
	ExtraBlocks [][]byte
}

// NewEnsemble returns a builder with plausible leader values for an
// instrument with the given geometry.
func NewEnsemble(number uint32, beams, cells uint8) EnsembleBuilder {
	return EnsembleBuilder{
		Fixed: FixedLeader{
			ID:               0x0000,
			CPUVersion:       51,
			CPURevision:      41,
			SystemConfig:     0x5249,
			LagLength:        13,
			Beams:            beams,
			Cells:            cells,
			PingsPerEnsemble: 60,
			CellLength:       400,
			ProfilingMode:    1,
			LowCorrThreshold: 64,
			CodeRepetitions:  5,
			ErrorVelocityMax: 2000,
			CoordTransform:   0x1F,
			SensorSource:     0x7D,
			SensorsAvailable: 0x3D,
			Bin1Distance:     650,
			PulseLength:      460,
			RefLayerAverage:  0x0501,
			CPUBoardSerial:   0x3A00000012345678,
			SystemBandwidth:  1,
			InstrumentSerial: 24577,
			BeamAngle:        20,
		},
		Variable: VariableLeader{
			ID:          0x0080,
			EnsembleLSB: uint16(number),
			EnsembleMSB: uint8(number >> 16),
			RTCYear:     24,
			RTCMonth:    6,
			RTCDay:      1,
			SoundSpeed:  1500,
			Salinity:    35,
			Temperature: 2150,
			Y2KCentury:  20,
			Y2KYear:     24,
			Y2KMonth:    6,
			Y2KDay:      1,
		},
	}
}

// Bytes encodes the ensemble including its checksum.
func (eb EnsembleBuilder) Bytes() ([]byte, error) {
	fixed, err := eb.Fixed.MarshalBinary()
	if err != nil {
		return nil, err
	}
	variable, err := eb.Variable.MarshalBinary()
	if err != nil {
		return nil, err
	}
	blocks := [][]byte{fixed, variable}

	last := -1
	for k := range eb.Arrays {
		if !k.valid() {
			return nil, fmt.Errorf("unknown array kind %d", int(k))
		}
		last = max(last, int(k))
	}
	n := int(eb.Fixed.Beams) * int(eb.Fixed.Cells)
	for k := ArrayKind(0); int(k) <= last; k++ {
		samples := eb.Arrays[k]
		if samples == nil {
			samples = make([]int16, n)
		}
		if len(samples) != n {
			return nil, fmt.Errorf("%s: %d samples for %d beams × %d cells", k, len(samples), eb.Fixed.Beams, eb.Fixed.Cells)
		}
		id := k.layout().ids[0]
		if v, ok := eb.ArrayIDs[k]; ok {
			id = v
		}
		blocks = append(blocks, encodeArray(k, id, samples))
	}
	blocks = append(blocks, eb.ExtraBlocks...)
	if len(blocks) > 255 {
		return nil, fmt.Errorf("%d data blocks exceed the one-byte count", len(blocks))
	}

	headerLen := prologueSize + 2*len(blocks)
	total := headerLen
	for _, b := range blocks {
		total += len(b)
	}
	if total > 0xFFFF {
		return nil, fmt.Errorf("ensemble of %d bytes exceeds the 16-bit length", total)
	}

	out := make([]byte, 0, total+checksumSize)
	out = append(out, headerID, sourceID)
	out = binary.LittleEndian.AppendUint16(out, uint16(total))
	out = append(out, 0, uint8(len(blocks)))
	off := headerLen
	for _, b := range blocks {
		out = binary.LittleEndian.AppendUint16(out, uint16(off))
		off += len(b)
	}
	for _, b := range blocks {
		out = append(out, b...)
	}
	return binary.LittleEndian.AppendUint16(out, Checksum(out)), nil
}

func encodeArray(k ArrayKind, id uint16, samples []int16) []byte {
	w := k.SampleWidth()
	b := make([]byte, 0, 2+w*len(samples))
	b = binary.LittleEndian.AppendUint16(b, id)
	for _, s := range samples {
		if w == 2 {
			b = binary.LittleEndian.AppendUint16(b, uint16(s))
		} else {
			b = append(b, uint8(s))
		}
	}
	return b
}

// BuildStream concatenates the encoded ensembles.
func BuildStream(ensembles ...EnsembleBuilder) ([]byte, error) {
	var out []byte
	for i, eb := range ensembles {
		b, err := eb.Bytes()
		if err != nil {
			return nil, fmt.Errorf("ensemble %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}
