package pd0

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeArrayDimensionsAreMaxima(t *testing.T) {
	ens := []EnsembleBuilder{
		sampleEnsemble(0, 4, 10, 1),
		sampleEnsemble(1, 3, 12, 1),
		sampleEnsemble(2, 4, 12, 1),
	}
	stream := encodeStream(t, ens...)

	block, h := DecodeArray(NewMemSource(stream), nil, nil, Velocity, Options{})
	require.Equal(t, Healthy, h.Condition)
	require.Equal(t, 4, block.Beams)
	require.Equal(t, 12, block.Cells)
	require.Equal(t, 3, block.Ensembles)
	require.Len(t, block.Data, 4*12*3)

	// ensemble 0 has 10 cells per beam
	require.Equal(t, ens[0].Arrays[Velocity][1*10+9], block.At(1, 9, 0))
	require.Equal(t, int16(-32768), block.At(1, 10, 0))
	require.Equal(t, int16(-32768), block.At(3, 11, 0))
	// ensemble 1 has 3 beams of 12 cells
	require.Equal(t, ens[1].Arrays[Velocity][2*12+11], block.At(2, 11, 1))
	require.Equal(t, int16(-32768), block.At(3, 0, 1))
	// ensemble 2 is full
	for b := 0; b < 4; b++ {
		for c := 0; c < 12; c++ {
			require.Equal(t, ens[2].Arrays[Velocity][b*12+c], block.At(b, c, 2))
		}
	}
	require.Equal(t, []int16{ens[0].Arrays[Velocity][0], ens[1].Arrays[Velocity][0], ens[2].Arrays[Velocity][0]}, block.Series(0, 0))
}

func TestDecodeArrayUnsignedKinds(t *testing.T) {
	eb := NewEnsemble(1, 2, 3)
	eb.Arrays = map[ArrayKind][]int16{
		Velocity:    {-1234, 0, 32767, -32767, 5, -5},
		Correlation: {255, 0, 128, 1, 254, 127},
		Echo:        {255, 255, 255, 255, 255, 255},
		PercentGood: {100, 0, 50, 25, 75, 255},
		Status:      {0, 1, 0, 1, 0, 255},
	}
	stream := encodeStream(t, eb, eb)

	for _, kind := range ArrayKinds {
		t.Run(kind.String(), func(t *testing.T) {
			block, h := DecodeArray(NewMemSource(stream), nil, nil, kind, Options{})
			require.Equal(t, Healthy, h.Condition)
			require.Equal(t, 2, block.Ensembles)
			for e := 0; e < 2; e++ {
				require.Equal(t, eb.Arrays[kind], block.Ensemble(e))
			}
		})
	}
}

func TestDecodeArrayDataTypeUnavailable(t *testing.T) {
	ens := uniformEnsembles(8, 2, 4, 5)
	ens[5] = sampleEnsemble(5, 2, 4, 2)
	stream := encodeStream(t, ens...)
	require.Equal(t, uint8(4), indexOf(t, stream).Ensembles[5].DataBlockCount)

	block, h := DecodeArray(NewMemSource(stream), nil, nil, PercentGood, Options{})
	require.Equal(t, DataTypeUnavailable, h.Condition)
	require.Equal(t, 5, h.At)
	require.Equal(t, 4, h.Available)
	require.Equal(t, 6, h.Requested)
	require.False(t, h.Fatal())
	require.Equal(t, 5, block.Ensembles)
	for e := 0; e < 5; e++ {
		require.Equal(t, ens[e].Arrays[PercentGood], block.Ensemble(e))
	}

	// slot 4 is still present everywhere
	block, h = DecodeArray(NewMemSource(stream), nil, nil, Correlation, Options{})
	require.Equal(t, Healthy, h.Condition)
	require.Equal(t, 8, block.Ensembles)
}

func TestDecodeArrayFatalAtFirstEnsemble(t *testing.T) {
	stream := encodeStream(t, uniformEnsembles(3, 2, 4, 2)...)
	block, h := DecodeArray(NewMemSource(stream), nil, nil, Status, Options{})
	require.Equal(t, DataTypeUnavailable, h.Condition)
	require.Equal(t, 0, h.At)
	require.Equal(t, 7, h.Requested)
	require.True(t, h.Fatal())
	require.Zero(t, block.Ensembles)
	require.Empty(t, block.Data)
}

func TestDecodeArrayIDs(t *testing.T) {
	ens := uniformEnsembles(4, 2, 2, 5)
	for i := range ens {
		ens[i].ArrayIDs = map[ArrayKind]uint16{Status: 0x0401, Echo: 0x0301}
	}
	ens[2].ArrayIDs[Velocity] = 0x0200

	stream := encodeStream(t, ens...)
	src := NewMemSource(stream)

	block, h := DecodeArray(src, nil, nil, Status, Options{})
	require.Equal(t, Healthy, h.Condition, "legacy status IDs are accepted")
	require.Equal(t, 4, block.Ensembles)

	block, h = DecodeArray(src, nil, nil, Echo, Options{})
	require.Equal(t, Healthy, h.Condition)
	require.Equal(t, 4, block.Ensembles)

	block, h = DecodeArray(src, nil, nil, Velocity, Options{})
	require.Equal(t, Corrupted, h.Condition)
	require.Equal(t, 2, h.At)
	require.Equal(t, 2, block.Ensembles)
}

func TestDecodeArrayParallelMatchesSequential(t *testing.T) {
	ens := uniformEnsembles(40, 3, 5, 5)
	ens[23].ArrayIDs = map[ArrayKind]uint16{Velocity: 0x0300}
	ens[31].ArrayIDs = map[ArrayKind]uint16{Velocity: 0x0300}
	stream := encodeStream(t, ens...)
	idx := indexOf(t, stream)
	src := NewMemSource(stream)

	fixed, h := DecodeFixedLeader(src, &idx, Options{})
	require.True(t, h.OK())

	seq, seqHealth := DecodeArray(src, &idx, fixed, Velocity, Options{Concurrency: 1})
	require.Equal(t, Corrupted, seqHealth.Condition)
	require.Equal(t, 23, seqHealth.At)

	for _, workers := range []int{2, 3, 7, 16, 64} {
		par, parHealth := DecodeArray(src, &idx, fixed, Velocity, Options{Concurrency: workers})
		require.Equal(t, seqHealth, parHealth, "workers=%d", workers)
		require.Equal(t, seq, par, "workers=%d", workers)
	}

	// the healthy kinds are unaffected
	pg, h := DecodeArray(src, &idx, fixed, PercentGood, Options{Concurrency: 8})
	require.Equal(t, Healthy, h.Condition)
	require.Equal(t, 40, pg.Ensembles)
}

func TestDecodeArrayPropagatesLeaderHealth(t *testing.T) {
	ens := uniformEnsembles(5, 2, 4, 3)
	ens[3].Fixed.ID = 0x0042
	stream := encodeStream(t, ens...)

	block, h := DecodeArray(NewMemSource(stream), nil, nil, Echo, Options{})
	require.Equal(t, Corrupted, h.Condition)
	require.Equal(t, 3, h.At)
	require.Equal(t, 3, block.Ensembles)
}

func TestDecodeArrayShortFixedTable(t *testing.T) {
	ens := uniformEnsembles(5, 2, 4, 3)
	ens[3].Fixed.ID = 0x0042
	stream := encodeStream(t, ens...)
	idx := indexOf(t, stream)
	src := NewMemSource(stream)

	fixed, fh := DecodeFixedLeader(src, &idx, Options{})
	require.Equal(t, Corrupted, fh.Condition)
	require.Equal(t, 3, fixed.Len())

	for _, workers := range []int{1, 4} {
		block, h := DecodeArray(src, &idx, fixed, Echo, Options{Concurrency: workers})
		require.Equal(t, Corrupted, h.Condition, "workers=%d", workers)
		require.Equal(t, 3, h.At)
		require.Equal(t, 3, h.Ensembles)
		require.Equal(t, 3, block.Ensembles)
		require.ErrorIs(t, h.Err(), ErrCorrupted)
	}

	// a table covering the whole index stays healthy
	full, _ := DecodeFixedLeader(src, &Index{Ensembles: idx.Ensembles[:3]}, Options{})
	block, h := DecodeArray(src, &Index{Ensembles: idx.Ensembles[:3]}, full, Echo, Options{})
	require.Equal(t, Healthy, h.Condition)
	require.Equal(t, 3, block.Ensembles)
}

func TestArrayLayoutSampleConversion(t *testing.T) {
	body := []byte{0xFF, 0x80, 0x7F, 0x00}
	tests := []struct {
		name string
		lay  arrayLayout
		want []int16
	}{
		{"unsigned byte", arrayLayout{width: 1}, []int16{255, 128, 127, 0}},
		{"signed byte", arrayLayout{width: 1, signed: true}, []int16{-1, -128, 127, 0}},
		{"signed word", arrayLayout{width: 2, signed: true}, []int16{-32513, 127}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := make([]int16, len(tc.want))
			for k := range got {
				got[k] = tc.lay.sample(body, k)
			}
			require.Equal(t, tc.want, got)
		})
	}
	require.Equal(t, Velocity.Signed(), Velocity.layout().signed)
	require.False(t, Echo.Signed())
}

func TestArrayKindMetadata(t *testing.T) {
	tests := []struct {
		kind   ArrayKind
		name   string
		slot   int
		width  int
		signed bool
		fill   int16
	}{
		{Velocity, "velocity", 3, 2, true, -32768},
		{Correlation, "correlation", 4, 1, false, 0},
		{Echo, "echo", 5, 1, false, 0},
		{PercentGood, "percent-good", 6, 1, false, 0},
		{Status, "status", 7, 1, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.name, tc.kind.String())
			require.Equal(t, tc.slot, tc.kind.Slot())
			require.Equal(t, tc.width, tc.kind.SampleWidth())
			require.Equal(t, tc.signed, tc.kind.Signed())
			require.Equal(t, tc.fill, tc.kind.Fill())
			parsed, err := ParseArrayKind(tc.name)
			require.NoError(t, err)
			require.Equal(t, tc.kind, parsed)
		})
	}
	require.True(t, Status.Accepts(0x0400))
	require.False(t, PercentGood.Accepts(0x0500))

	k, err := ParseArrayKind("Percent_Good")
	require.NoError(t, err)
	require.Equal(t, PercentGood, k)
	_, err = ParseArrayKind("bottom-track")
	require.Error(t, err)
}
