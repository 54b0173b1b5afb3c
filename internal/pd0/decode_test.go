package pd0

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/pd0gate/internal/common"
)

func TestDecoderDecode(t *testing.T) {
	ens := uniformEnsembles(6, 4, 6, 5)
	stream := encodeStream(t, ens...)

	dec := NewDecoder(NewMemSource(stream), Options{Concurrency: 4})
	m := common.NewMetrics()
	dec.SetMetrics(m)
	ds, err := dec.Decode(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, ds.Ensembles)
	require.Equal(t, ArrayKinds, ds.Kinds())
	require.Equal(t, Healthy, ds.Health().Condition)
	require.Equal(t, 6, ds.Fixed.Len())
	require.Equal(t, 6, ds.Variable.Len())
	for _, k := range ArrayKinds {
		require.Equal(t, 6, ds.Arrays[k].Ensembles, "%s", k)
		require.Equal(t, ens[4].Arrays[k], ds.Arrays[k].Ensemble(4), "%s", k)
	}
	require.Equal(t, int64(6), m.Snapshot().Ensembles)
}

func TestDecoderDecodeCommonEnsembleCount(t *testing.T) {
	ens := uniformEnsembles(7, 2, 3, 4)
	ens[3] = sampleEnsemble(3, 2, 3, 3)
	stream := encodeStream(t, ens...)

	ds, err := NewDecoder(NewMemSource(stream), Options{}).Decode(context.Background())
	require.NoError(t, err)
	require.Equal(t, []ArrayKind{Velocity, Correlation, Echo, PercentGood}, ds.Kinds())
	require.Equal(t, 3, ds.Ensembles)
	require.Equal(t, DataTypeUnavailable, ds.ArrayHealth[PercentGood].Condition)
	require.Equal(t, Healthy, ds.ArrayHealth[Velocity].Condition)
	require.Equal(t, 7, ds.ArrayHealth[Velocity].Ensembles)

	require.Len(t, ds.Index.Ensembles, 3)
	require.Equal(t, 3, ds.Fixed.Len())
	require.Equal(t, 3, ds.Variable.Len())
	for _, k := range ds.Kinds() {
		require.Equal(t, 3, ds.Arrays[k].Ensembles)
		require.Len(t, ds.Arrays[k].Data, 3*2*3)
	}
	require.Equal(t, DataTypeUnavailable, ds.Health().Condition)
}

func TestDecoderDecodeWrongFormat(t *testing.T) {
	ds, err := NewDecoder(NewMemSource([]byte{0x7F, 0x00, 0x01}), Options{}).Decode(context.Background())
	require.ErrorIs(t, err, ErrWrongFormat)
	require.Equal(t, WrongFormat, ds.IndexHealth.Condition)
	require.True(t, ds.Health().Fatal())
}

func TestDecoderDecodeEmpty(t *testing.T) {
	ds, err := NewDecoder(NewMemSource(nil), Options{}).Decode(context.Background())
	require.NoError(t, err)
	require.Zero(t, ds.Ensembles)
	require.Empty(t, ds.Kinds())
	require.Equal(t, EndOfStream, ds.Health().Condition)
}

func TestDecoderCancelled(t *testing.T) {
	stream := encodeStream(t, uniformEnsembles(4, 2, 2, 1)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := NewDecoder(NewMemSource(stream), Options{Concurrency: 2})
	idx, h := dec.Index(ctx)
	require.Equal(t, UnknownIO, h.Condition)
	require.ErrorIs(t, h.Err(), context.Canceled)
	require.Zero(t, idx.Len())

	full := indexOf(t, stream)
	_, h = dec.FixedLeader(ctx, &full)
	require.Equal(t, UnknownIO, h.Condition)
	require.ErrorIs(t, h.Err(), context.Canceled)

	_, err := dec.Decode(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestForEachEnsembleLowestFailureWins(t *testing.T) {
	fail := map[int]bool{3: true, 17: true, 29: true}
	for _, workers := range []int{1, 2, 5, 30, 100} {
		h := forEachEnsemble(context.Background(), 30, workers, func(i int) (Health, bool) {
			if fail[i] {
				return corruptedAt(i, "boom"), false
			}
			return Health{}, true
		})
		require.Equal(t, Corrupted, h.Condition, "workers=%d", workers)
		require.Equal(t, 3, h.At, "workers=%d", workers)
		require.Equal(t, 3, h.Ensembles, "workers=%d", workers)
	}

	h := forEachEnsemble(context.Background(), 0, 4, func(int) (Health, bool) {
		t.Fatal("called for empty range")
		return Health{}, false
	})
	require.Equal(t, healthy(0), h)
}
