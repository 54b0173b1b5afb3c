package pd0

import (
	"encoding/binary"
	"fmt"
)

const (
	FixedLeaderSize    = 59
	VariableLeaderSize = 65
)

// FixedLeader holds the static configuration block, slot 1 of every
// ensemble. Fields appear in wire order.
type FixedLeader struct {
	ID                   uint16 `json:"id"`
	CPUVersion           uint8  `json:"cpuVersion"`
	CPURevision          uint8  `json:"cpuRevision"`
	SystemConfig         uint16 `json:"systemConfig"`
	RealSimFlag          uint8  `json:"realSimFlag"`
	LagLength            uint8  `json:"lagLength"`
	Beams                uint8  `json:"beams"`
	Cells                uint8  `json:"cells"`
	PingsPerEnsemble     uint16 `json:"pingsPerEnsemble"`
	CellLength           uint16 `json:"cellLength"`
	BlankAfterTransmit   uint16 `json:"blankAfterTransmit"`
	ProfilingMode        uint8  `json:"profilingMode"`
	LowCorrThreshold     uint8  `json:"lowCorrThreshold"`
	CodeRepetitions      uint8  `json:"codeRepetitions"`
	PercentGoodMin       uint8  `json:"percentGoodMin"`
	ErrorVelocityMax     uint16 `json:"errorVelocityMax"`
	TPPMinutes           uint8  `json:"tppMinutes"`
	TPPSeconds           uint8  `json:"tppSeconds"`
	TPPHundredths        uint8  `json:"tppHundredths"`
	CoordTransform       uint8  `json:"coordTransform"`
	HeadingAlignment     uint16 `json:"headingAlignment"`
	HeadingBias          uint16 `json:"headingBias"`
	SensorSource         uint8  `json:"sensorSource"`
	SensorsAvailable     uint8  `json:"sensorsAvailable"`
	Bin1Distance         uint16 `json:"bin1Distance"`
	PulseLength          uint16 `json:"pulseLength"`
	RefLayerAverage      uint16 `json:"refLayerAverage"`
	FalseTargetThreshold uint8  `json:"falseTargetThreshold"`
	Spare1               uint8  `json:"spare1"`
	TransmitLagDistance  uint16 `json:"transmitLagDistance"`
	CPUBoardSerial       uint64 `json:"cpuBoardSerial"` // big-endian on the wire
	SystemBandwidth      uint16 `json:"systemBandwidth"`
	SystemPower          uint8  `json:"systemPower"`
	Spare2               uint8  `json:"spare2"`
	InstrumentSerial     uint32 `json:"instrumentSerial"`
	BeamAngle            uint8  `json:"beamAngle"`
}

// FixedLeaderFields names the columns returned by FixedLeader.Values.
var FixedLeaderFields = []string{
	"Fixed Leader ID", "CPU Version", "CPU Revision", "System Config",
	"Real Flag", "Lag Length", "Beams", "Cells", "Pings", "Depth Cell Len",
	"Blank Transmit", "Signal Mode", "Correlation Thresh", "Code Reps",
	"Percent Good Min", "Error Velocity Thresh", "TP Minute", "TP Second",
	"TP Hundredth", "Coord Transform", "Head Alignment", "Head Bias",
	"Sensor Source", "Sensor Avail", "Bin 1 Dist", "Xmit Pulse Len",
	"Ref Layer Avg", "False Target Thresh", "Spare 1", "Transmit Lag Dist",
	"CPU Serial No", "System Bandwidth", "System Power", "Spare 2",
	"Instrument No", "Beam Angle",
}

// VariableLeader holds the per-ensemble sensor block, slot 2 of every
// ensemble. Fields appear in wire order.
type VariableLeader struct {
	ID               uint16   `json:"id"`
	EnsembleLSB      uint16   `json:"ensembleNumber"`
	RTCYear          uint8    `json:"rtcYear"`
	RTCMonth         uint8    `json:"rtcMonth"`
	RTCDay           uint8    `json:"rtcDay"`
	RTCHour          uint8    `json:"rtcHour"`
	RTCMinute        uint8    `json:"rtcMinute"`
	RTCSecond        uint8    `json:"rtcSecond"`
	RTCHundredth     uint8    `json:"rtcHundredth"`
	EnsembleMSB      uint8    `json:"ensembleMSB"`
	BITResult        uint16   `json:"bitResult"`
	SoundSpeed       uint16   `json:"soundSpeed"`
	TransducerDepth  uint16   `json:"transducerDepth"`
	Heading          uint16   `json:"heading"`
	Pitch            int16    `json:"pitch"`
	Roll             int16    `json:"roll"`
	Salinity         uint16   `json:"salinity"`
	Temperature      int16    `json:"temperature"`
	MPTMinutes       uint8    `json:"mptMinutes"`
	MPTSeconds       uint8    `json:"mptSeconds"`
	MPTHundredths    uint8    `json:"mptHundredths"`
	HeadingStdDev    uint8    `json:"headingStdDev"`
	PitchStdDev      uint8    `json:"pitchStdDev"`
	RollStdDev       uint8    `json:"rollStdDev"`
	ADC              [8]uint8 `json:"adc"`
	ErrorStatus      [4]uint8 `json:"errorStatus"`
	Reserved         uint16   `json:"reserved"`
	Pressure         int32    `json:"pressure"`
	PressureVariance int32    `json:"pressureVariance"`
	Spare            uint8    `json:"spare"`
	Y2KCentury       uint8    `json:"y2kCentury"`
	Y2KYear          uint8    `json:"y2kYear"`
	Y2KMonth         uint8    `json:"y2kMonth"`
	Y2KDay           uint8    `json:"y2kDay"`
	Y2KHour          uint8    `json:"y2kHour"`
	Y2KMinute        uint8    `json:"y2kMinute"`
	Y2KSecond        uint8    `json:"y2kSecond"`
	Y2KHundredth     uint8    `json:"y2kHundredth"`
}

// VariableLeaderFields names the columns returned by VariableLeader.Values.
var VariableLeaderFields = []string{
	"Variable Leader ID", "Ensemble Number", "RTC Year", "RTC Month",
	"RTC Day", "RTC Hour", "RTC Minute", "RTC Second", "RTC Hundredth",
	"Ensemble MSB", "Bit Result", "Speed of Sound", "Depth of Transducer",
	"Heading", "Pitch", "Roll", "Salinity", "Temperature", "MPT Minute",
	"MPT Second", "MPT Hundredth", "Head Std Dev", "Pitch Std Dev",
	"Roll Std Dev", "ADC Channel 0", "ADC Channel 1", "ADC Channel 2",
	"ADC Channel 3", "ADC Channel 4", "ADC Channel 5", "ADC Channel 6",
	"ADC Channel 7", "Error Status Word 1", "Error Status Word 2",
	"Error Status Word 3", "Error Status Word 4", "Reserved", "Pressure",
	"Pressure Variance", "Spare", "Y2K Century", "Y2K Year", "Y2K Month",
	"Y2K Day", "Y2K Hour", "Y2K Minute", "Y2K Second", "Y2K Hundredth",
}

// EnsembleNumber combines the rollover byte with the 16-bit counter.
func (v VariableLeader) EnsembleNumber() uint32 {
	return uint32(v.EnsembleMSB)<<16 | uint32(v.EnsembleLSB)
}

type fieldReader struct {
	b   []byte
	off int
}

func (r *fieldReader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *fieldReader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *fieldReader) i16() int16 { return int16(r.u16()) }

func (r *fieldReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *fieldReader) i32() int32 { return int32(r.u32()) }

func (r *fieldReader) u64BE() uint64 {
	v := binary.BigEndian.Uint64(r.b[r.off:])
	r.off += 8
	return v
}

// UnmarshalBinary decodes a Fixed Leader block starting at its ID word.
func (f *FixedLeader) UnmarshalBinary(b []byte) error {
	if len(b) < FixedLeaderSize {
		return fmt.Errorf("fixed leader needs %d bytes, have %d", FixedLeaderSize, len(b))
	}
	r := fieldReader{b: b}
	*f = FixedLeader{
		ID:                   r.u16(),
		CPUVersion:           r.u8(),
		CPURevision:          r.u8(),
		SystemConfig:         r.u16(),
		RealSimFlag:          r.u8(),
		LagLength:            r.u8(),
		Beams:                r.u8(),
		Cells:                r.u8(),
		PingsPerEnsemble:     r.u16(),
		CellLength:           r.u16(),
		BlankAfterTransmit:   r.u16(),
		ProfilingMode:        r.u8(),
		LowCorrThreshold:     r.u8(),
		CodeRepetitions:      r.u8(),
		PercentGoodMin:       r.u8(),
		ErrorVelocityMax:     r.u16(),
		TPPMinutes:           r.u8(),
		TPPSeconds:           r.u8(),
		TPPHundredths:        r.u8(),
		CoordTransform:       r.u8(),
		HeadingAlignment:     r.u16(),
		HeadingBias:          r.u16(),
		SensorSource:         r.u8(),
		SensorsAvailable:     r.u8(),
		Bin1Distance:         r.u16(),
		PulseLength:          r.u16(),
		RefLayerAverage:      r.u16(),
		FalseTargetThreshold: r.u8(),
		Spare1:               r.u8(),
		TransmitLagDistance:  r.u16(),
		CPUBoardSerial:       r.u64BE(),
		SystemBandwidth:      r.u16(),
		SystemPower:          r.u8(),
		Spare2:               r.u8(),
		InstrumentSerial:     r.u32(),
		BeamAngle:            r.u8(),
	}
	return nil
}

// MarshalBinary encodes the block exactly as the instrument writes it.
func (f FixedLeader) MarshalBinary() ([]byte, error) {
	le := binary.LittleEndian
	b := make([]byte, 0, FixedLeaderSize)
	b = le.AppendUint16(b, f.ID)
	b = append(b, f.CPUVersion, f.CPURevision)
	b = le.AppendUint16(b, f.SystemConfig)
	b = append(b, f.RealSimFlag, f.LagLength, f.Beams, f.Cells)
	b = le.AppendUint16(b, f.PingsPerEnsemble)
	b = le.AppendUint16(b, f.CellLength)
	b = le.AppendUint16(b, f.BlankAfterTransmit)
	b = append(b, f.ProfilingMode, f.LowCorrThreshold, f.CodeRepetitions, f.PercentGoodMin)
	b = le.AppendUint16(b, f.ErrorVelocityMax)
	b = append(b, f.TPPMinutes, f.TPPSeconds, f.TPPHundredths, f.CoordTransform)
	b = le.AppendUint16(b, f.HeadingAlignment)
	b = le.AppendUint16(b, f.HeadingBias)
	b = append(b, f.SensorSource, f.SensorsAvailable)
	b = le.AppendUint16(b, f.Bin1Distance)
	b = le.AppendUint16(b, f.PulseLength)
	b = le.AppendUint16(b, f.RefLayerAverage)
	b = append(b, f.FalseTargetThreshold, f.Spare1)
	b = le.AppendUint16(b, f.TransmitLagDistance)
	b = binary.BigEndian.AppendUint64(b, f.CPUBoardSerial)
	b = le.AppendUint16(b, f.SystemBandwidth)
	b = append(b, f.SystemPower, f.Spare2)
	b = le.AppendUint32(b, f.InstrumentSerial)
	b = append(b, f.BeamAngle)
	return b, nil
}

// Values flattens the row in FixedLeaderFields order.
func (f FixedLeader) Values() []int64 {
	return []int64{
		int64(f.ID), int64(f.CPUVersion), int64(f.CPURevision), int64(f.SystemConfig),
		int64(f.RealSimFlag), int64(f.LagLength), int64(f.Beams), int64(f.Cells),
		int64(f.PingsPerEnsemble), int64(f.CellLength), int64(f.BlankAfterTransmit),
		int64(f.ProfilingMode), int64(f.LowCorrThreshold), int64(f.CodeRepetitions),
		int64(f.PercentGoodMin), int64(f.ErrorVelocityMax), int64(f.TPPMinutes),
		int64(f.TPPSeconds), int64(f.TPPHundredths), int64(f.CoordTransform),
		int64(f.HeadingAlignment), int64(f.HeadingBias), int64(f.SensorSource),
		int64(f.SensorsAvailable), int64(f.Bin1Distance), int64(f.PulseLength),
		int64(f.RefLayerAverage), int64(f.FalseTargetThreshold), int64(f.Spare1),
		int64(f.TransmitLagDistance), int64(f.CPUBoardSerial), int64(f.SystemBandwidth),
		int64(f.SystemPower), int64(f.Spare2), int64(f.InstrumentSerial), int64(f.BeamAngle),
	}
}

// clearSerialBlock zeroes the columns old firmware leaves uninitialised.
func (f *FixedLeader) clearSerialBlock() {
	f.CPUBoardSerial = 0
	f.SystemBandwidth = 0
	f.SystemPower = 0
	f.Spare2 = 0
	f.InstrumentSerial = 0
	f.BeamAngle = 0
}

// UnmarshalBinary decodes a Variable Leader block starting at its ID word.
func (v *VariableLeader) UnmarshalBinary(b []byte) error {
	if len(b) < VariableLeaderSize {
		return fmt.Errorf("variable leader needs %d bytes, have %d", VariableLeaderSize, len(b))
	}
	r := fieldReader{b: b}
	out := VariableLeader{
		ID:              r.u16(),
		EnsembleLSB:     r.u16(),
		RTCYear:         r.u8(),
		RTCMonth:        r.u8(),
		RTCDay:          r.u8(),
		RTCHour:         r.u8(),
		RTCMinute:       r.u8(),
		RTCSecond:       r.u8(),
		RTCHundredth:    r.u8(),
		EnsembleMSB:     r.u8(),
		BITResult:       r.u16(),
		SoundSpeed:      r.u16(),
		TransducerDepth: r.u16(),
		Heading:         r.u16(),
		Pitch:           r.i16(),
		Roll:            r.i16(),
		Salinity:        r.u16(),
		Temperature:     r.i16(),
		MPTMinutes:      r.u8(),
		MPTSeconds:      r.u8(),
		MPTHundredths:   r.u8(),
		HeadingStdDev:   r.u8(),
		PitchStdDev:     r.u8(),
		RollStdDev:      r.u8(),
	}
	for i := range out.ADC {
		out.ADC[i] = r.u8()
	}
	for i := range out.ErrorStatus {
		out.ErrorStatus[i] = r.u8()
	}
	out.Reserved = r.u16()
	out.Pressure = r.i32()
	out.PressureVariance = r.i32()
	out.Spare = r.u8()
	out.Y2KCentury = r.u8()
	out.Y2KYear = r.u8()
	out.Y2KMonth = r.u8()
	out.Y2KDay = r.u8()
	out.Y2KHour = r.u8()
	out.Y2KMinute = r.u8()
	out.Y2KSecond = r.u8()
	out.Y2KHundredth = r.u8()
	*v = out
	return nil
}

// MarshalBinary encodes the block exactly as the instrument writes it.
func (v VariableLeader) MarshalBinary() ([]byte, error) {
	le := binary.LittleEndian
	b := make([]byte, 0, VariableLeaderSize)
	b = le.AppendUint16(b, v.ID)
	b = le.AppendUint16(b, v.EnsembleLSB)
	b = append(b, v.RTCYear, v.RTCMonth, v.RTCDay, v.RTCHour, v.RTCMinute, v.RTCSecond, v.RTCHundredth)
	b = append(b, v.EnsembleMSB)
	b = le.AppendUint16(b, v.BITResult)
	b = le.AppendUint16(b, v.SoundSpeed)
	b = le.AppendUint16(b, v.TransducerDepth)
	b = le.AppendUint16(b, v.Heading)
	b = le.AppendUint16(b, uint16(v.Pitch))
	b = le.AppendUint16(b, uint16(v.Roll))
	b = le.AppendUint16(b, v.Salinity)
	b = le.AppendUint16(b, uint16(v.Temperature))
	b = append(b, v.MPTMinutes, v.MPTSeconds, v.MPTHundredths)
	b = append(b, v.HeadingStdDev, v.PitchStdDev, v.RollStdDev)
	b = append(b, v.ADC[:]...)
	b = append(b, v.ErrorStatus[:]...)
	b = le.AppendUint16(b, v.Reserved)
	b = le.AppendUint32(b, uint32(v.Pressure))
	b = le.AppendUint32(b, uint32(v.PressureVariance))
	b = append(b, v.Spare)
	b = append(b, v.Y2KCentury, v.Y2KYear, v.Y2KMonth, v.Y2KDay, v.Y2KHour, v.Y2KMinute, v.Y2KSecond, v.Y2KHundredth)
	return b, nil
}

// Values flattens the row in VariableLeaderFields order.
func (v VariableLeader) Values() []int64 {
	out := []int64{
		int64(v.ID), int64(v.EnsembleLSB), int64(v.RTCYear), int64(v.RTCMonth),
		int64(v.RTCDay), int64(v.RTCHour), int64(v.RTCMinute), int64(v.RTCSecond),
		int64(v.RTCHundredth), int64(v.EnsembleMSB), int64(v.BITResult),
		int64(v.SoundSpeed), int64(v.TransducerDepth), int64(v.Heading),
		int64(v.Pitch), int64(v.Roll), int64(v.Salinity), int64(v.Temperature),
		int64(v.MPTMinutes), int64(v.MPTSeconds), int64(v.MPTHundredths),
		int64(v.HeadingStdDev), int64(v.PitchStdDev), int64(v.RollStdDev),
	}
	for _, a := range v.ADC {
		out = append(out, int64(a))
	}
	for _, e := range v.ErrorStatus {
		out = append(out, int64(e))
	}
	return append(out,
		int64(v.Reserved), int64(v.Pressure), int64(v.PressureVariance), int64(v.Spare),
		int64(v.Y2KCentury), int64(v.Y2KYear), int64(v.Y2KMonth), int64(v.Y2KDay),
		int64(v.Y2KHour), int64(v.Y2KMinute), int64(v.Y2KSecond), int64(v.Y2KHundredth),
	)
}
