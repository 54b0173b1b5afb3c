package pd0

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// sampleEnsemble builds ensemble i carrying the first kinds array blocks,
// each filled with a pattern derived from i.
func sampleEnsemble(i int, beams, cells uint8, kinds int) EnsembleBuilder {
	eb := NewEnsemble(uint32(i+1), beams, cells)
	eb.Variable.Heading = uint16(100 * i)
	eb.Variable.Pitch = int16(-10 * i)
	eb.Arrays = make(map[ArrayKind][]int16, kinds)
	n := int(beams) * int(cells)
	for _, k := range ArrayKinds[:kinds] {
		s := make([]int16, n)
		for j := range s {
			if k == Velocity {
				s[j] = int16(i*100 + j - 50)
			} else {
				s[j] = int16((i + j + int(k)) % 256)
			}
		}
		eb.Arrays[k] = s
	}
	return eb
}

func uniformEnsembles(n int, beams, cells uint8, kinds int) []EnsembleBuilder {
	out := make([]EnsembleBuilder, n)
	for i := range out {
		out[i] = sampleEnsemble(i, beams, cells, kinds)
	}
	return out
}

func encodeStream(t *testing.T, ensembles ...EnsembleBuilder) []byte {
	t.Helper()
	b, err := BuildStream(ensembles...)
	require.NoError(t, err)
	return b
}

func indexOf(t *testing.T, stream []byte) Index {
	t.Helper()
	idx, h := BuildIndex(NewMemSource(stream), Options{})
	require.True(t, h.OK(), "index health %s", h)
	return idx
}
