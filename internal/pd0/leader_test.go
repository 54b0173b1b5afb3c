package pd0

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFixedLeaderBuildsIndex(t *testing.T) {
	ens := uniformEnsembles(4, 4, 12, 2)
	ens[2] = sampleEnsemble(2, 4, 9, 2)
	stream := encodeStream(t, ens...)

	table, h := DecodeFixedLeader(NewMemSource(stream), nil, Options{})
	require.Equal(t, Healthy, h.Condition)
	require.Equal(t, 4, table.Len())
	require.False(t, table.SerialMissing)
	for i, row := range table.Rows {
		require.Equal(t, ens[i].Fixed, row, "row %d", i)
	}
	require.Equal(t, 4, table.MaxBeams())
	require.Equal(t, 12, table.MaxCells())
}

func TestDecodeVariableLeader(t *testing.T) {
	ens := uniformEnsembles(5, 2, 4, 1)
	ens[3].Variable.EnsembleMSB = 1
	stream := encodeStream(t, ens...)
	idx := indexOf(t, stream)

	table, h := DecodeVariableLeader(NewMemSource(stream), &idx, Options{Concurrency: 3})
	require.Equal(t, Healthy, h.Condition)
	require.Equal(t, 5, table.Len())
	for i, row := range table.Rows {
		require.Equal(t, ens[i].Variable, row, "row %d", i)
	}
	require.Equal(t, uint32(1<<16|4), table.Rows[3].EnsembleNumber())
	require.Equal(t, int16(-40), table.Rows[4].Pitch)
}

func TestDecodeFixedLeaderOldFirmwareSerial(t *testing.T) {
	ens := uniformEnsembles(3, 4, 8, 1)
	ens[1].Fixed.CPUBoardSerial = 0x8000000000000001
	stream := encodeStream(t, ens...)

	table, h := DecodeFixedLeader(NewMemSource(stream), nil, Options{})
	require.True(t, h.OK())
	require.True(t, table.SerialMissing)
	for _, row := range table.Rows {
		require.Zero(t, row.CPUBoardSerial)
		require.Zero(t, row.SystemBandwidth)
		require.Zero(t, row.SystemPower)
		require.Zero(t, row.Spare2)
		require.Zero(t, row.InstrumentSerial)
		require.Zero(t, row.BeamAngle)
		require.Equal(t, uint8(4), row.Beams)
		require.Equal(t, uint16(650), row.Bin1Distance)
	}
}

func TestDecodeLeaderWrongID(t *testing.T) {
	ens := uniformEnsembles(4, 2, 4, 1)
	ens[2].Fixed.ID = 0x0005
	ens[1].Variable.ID = 0x0200
	stream := encodeStream(t, ens...)

	fixed, h := DecodeFixedLeader(NewMemSource(stream), nil, Options{})
	require.Equal(t, Corrupted, h.Condition)
	require.Equal(t, 2, h.At)
	require.Equal(t, 2, fixed.Len())

	variable, h := DecodeVariableLeader(NewMemSource(stream), nil, Options{Concurrency: 4})
	require.Equal(t, Corrupted, h.Condition)
	require.Equal(t, 1, h.At)
	require.Equal(t, 1, variable.Len())
}

func TestDecodeLeaderMissingSlot(t *testing.T) {
	stream := encodeStream(t, uniformEnsembles(3, 2, 4, 1)...)
	idx := indexOf(t, stream)
	idx.Ensembles[1].Blocks = idx.Ensembles[1].Blocks[:1]

	table, h := DecodeVariableLeader(NewMemSource(stream), &idx, Options{})
	require.Equal(t, DataTypeUnavailable, h.Condition)
	require.Equal(t, 1, h.At)
	require.Equal(t, 1, h.Available)
	require.Equal(t, 2, h.Requested)
	require.Equal(t, 1, table.Len())
	require.False(t, h.Fatal())
	require.Equal(t, 6, h.Code())

	idx.Ensembles[0].Blocks = nil
	_, h = DecodeFixedLeader(NewMemSource(stream), &idx, Options{})
	require.Equal(t, DataTypeUnavailable, h.Condition)
	require.True(t, h.Fatal())
	require.ErrorIs(t, h.Err(), ErrDataTypeUnavailable)
}

func TestDecodeLeaderPropagatesIndexHealth(t *testing.T) {
	stream := encodeStream(t, uniformEnsembles(3, 2, 4, 1)...)

	t.Run("truncated", func(t *testing.T) {
		table, h := DecodeFixedLeader(NewMemSource(stream[:len(stream)-5]), nil, Options{})
		require.Equal(t, EndOfStream, h.Condition)
		require.Equal(t, 2, h.Ensembles)
		require.Equal(t, 2, table.Len())
	})
	t.Run("wrong format", func(t *testing.T) {
		table, h := DecodeVariableLeader(NewMemSource([]byte("not an adcp file")), nil, Options{})
		require.Equal(t, WrongFormat, h.Condition)
		require.Zero(t, table.Len())
	})
	t.Run("supplied index is trusted", func(t *testing.T) {
		idx := indexOf(t, stream)
		idx.Ensembles = idx.Ensembles[:2]
		table, h := DecodeFixedLeader(NewMemSource(stream), &idx, Options{})
		require.Equal(t, Healthy, h.Condition)
		require.Equal(t, 2, table.Len())
	})
}
