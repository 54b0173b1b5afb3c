package pd0

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"example.com/pd0gate/internal/common"
)

const (
	headerID     = 0x7F
	sourceID     = 0x7F
	prologueSize = 6
	checksumSize = 2
)

// Indexer walks a stream one ensemble at a time. Each ensemble start is only
// known from the previous ensemble's declared length, so the scan is
// strictly sequential.
type Indexer struct {
	source  ByteSource
	offset  int64
	verify  bool
	metrics *common.Metrics

	index   Index
	health  Health
	stopped bool
}

// NewIndexer prepares a scan of src starting at byte 0.
func NewIndexer(src ByteSource, opts Options) *Indexer {
	return &Indexer{source: src, verify: opts.VerifyChecksum}
}

// SetMetrics attaches a metrics recorder to the indexer.
func (ix *Indexer) SetMetrics(m *common.Metrics) {
	ix.metrics = m
	if m != nil && ix.source != nil {
		m.SetTotalBytes(ix.source.Size())
	}
}

// Index returns a copy of the ensembles indexed so far.
func (ix *Indexer) Index() Index {
	out := Index{Ensembles: make([]EnsembleDescriptor, len(ix.index.Ensembles))}
	copy(out.Ensembles, ix.index.Ensembles)
	return out
}

// Health reports why the scan stopped. It is only final once Next has
// returned a non-nil error.
func (ix *Indexer) Health() Health {
	if !ix.stopped {
		return healthy(len(ix.index.Ensembles))
	}
	return ix.health
}

// Next indexes the following ensemble. It returns io.EOF once the stream is
// exhausted, or the Health error describing why the scan had to stop. The
// ensembles indexed before the stop remain available through Index.
func (ix *Indexer) Next() (EnsembleDescriptor, error) {
	if ix.stopped {
		return EnsembleDescriptor{}, ix.stopErr()
	}
	i := len(ix.index.Ensembles)
	desc, h, ok := ix.scanEnsemble(i)
	if !ok {
		ix.stop(h)
		return EnsembleDescriptor{}, ix.stopErr()
	}
	if i > 0 {
		if prev := ix.index.Ensembles[i-1].DataBlockCount; prev != desc.DataBlockCount {
			common.Logf("ensemble %d carries %d data types, previous ensemble had %d", i, desc.DataBlockCount, prev)
		}
	}
	ix.index.Ensembles = append(ix.index.Ensembles, desc)
	if ix.metrics != nil {
		ix.metrics.AddEnsemble(int64(desc.TotalBytes) + checksumSize)
	}
	ix.offset = int64(desc.NextOffset)
	return desc, nil
}

func (ix *Indexer) stop(h Health) {
	ix.stopped = true
	ix.health = h
	switch h.Condition {
	case Healthy, EndOfStream:
	default:
		if ix.metrics != nil {
			ix.metrics.IncCorruption()
		}
		common.Logf("index stopped at offset %d: %s; ensembles reset to %d", ix.offset, h, h.Ensembles)
	}
}

func (ix *Indexer) stopErr() error {
	if err := ix.health.Err(); err != nil {
		return err
	}
	return io.EOF
}

// scanEnsemble reads the ensemble at the cursor. ok is false when the scan
// must stop, in which case h explains why.
func (ix *Indexer) scanEnsemble(i int) (EnsembleDescriptor, Health, bool) {
	start := ix.offset
	sync, err := readExact(ix.source, start, 2)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Nothing left between ensembles.
			if i == 0 {
				return EnsembleDescriptor{}, endOfStream(0), false
			}
			return EnsembleDescriptor{}, healthy(i), false
		}
		return EnsembleDescriptor{}, readFailure(i, err), false
	}
	if sync[0] != headerID || sync[1] != sourceID {
		if i == 0 {
			return EnsembleDescriptor{}, Health{Condition: WrongFormat}, false
		}
		return EnsembleDescriptor{}, corruptedAt(i, fmt.Sprintf("header 0x%02X%02X at offset %d", sync[0], sync[1], start)), false
	}

	pro, err := readExact(ix.source, start+2, prologueSize-2)
	if err != nil {
		return EnsembleDescriptor{}, readFailure(i, err), false
	}
	desc := EnsembleDescriptor{
		TotalBytes:     binary.LittleEndian.Uint16(pro[0:2]),
		StreamOffset:   uint64(start),
		DataBlockCount: pro[3],
	}
	count := int(desc.DataBlockCount)
	if int(desc.TotalBytes) < prologueSize+2*count {
		return EnsembleDescriptor{}, corruptedAt(i, fmt.Sprintf("ensemble length %d shorter than its %d-entry offset table", desc.TotalBytes, count)), false
	}

	if count > 0 {
		table, err := readExact(ix.source, start+prologueSize, 2*count)
		if err != nil {
			return EnsembleDescriptor{}, readFailure(i, err), false
		}
		desc.Blocks = make([]Block, count)
		for b := 0; b < count; b++ {
			rel := binary.LittleEndian.Uint16(table[2*b : 2*b+2])
			if int(rel)+2 > int(desc.TotalBytes) {
				return EnsembleDescriptor{}, corruptedAt(i, fmt.Sprintf("block %d offset %d outside %d-byte ensemble", b+1, rel, desc.TotalBytes)), false
			}
			id, err := readExact(ix.source, start+int64(rel), 2)
			if err != nil {
				return EnsembleDescriptor{}, readFailure(i, err), false
			}
			desc.Blocks[b] = Block{RelativeOffset: rel, ID: binary.LittleEndian.Uint16(id)}
		}
	}

	trailer, err := readExact(ix.source, start+int64(desc.TotalBytes), checksumSize)
	if err != nil {
		return EnsembleDescriptor{}, readFailure(i, err), false
	}
	desc.Checksum = binary.LittleEndian.Uint16(trailer)
	desc.NextOffset = desc.StreamOffset + uint64(desc.TotalBytes) + checksumSize

	if ix.verify {
		match, err := verifyEnsembleChecksum(ix.source, desc)
		if err != nil {
			return EnsembleDescriptor{}, readFailure(i, err), false
		}
		if !match {
			return EnsembleDescriptor{}, corruptedAt(i, "checksum mismatch"), false
		}
	}
	return desc, Health{}, true
}

// readFailure classifies a read fault in the middle of ensemble i.
func readFailure(i int, err error) Health {
	if isEndOfData(err) {
		return endOfStream(i)
	}
	return unknownIO(i, err)
}

// BuildIndex scans src from the start and returns every ensemble that passed
// validation together with the reason the scan stopped.
func BuildIndex(src ByteSource, opts Options) (Index, Health) {
	return buildIndex(context.Background(), src, opts, nil)
}

func buildIndex(ctx context.Context, src ByteSource, opts Options, m *common.Metrics) (Index, Health) {
	ix := NewIndexer(src, opts)
	ix.SetMetrics(m)
	for {
		if err := ctx.Err(); err != nil {
			return ix.Index(), unknownIO(len(ix.index.Ensembles), err)
		}
		if _, err := ix.Next(); err != nil {
			break
		}
	}
	return ix.Index(), ix.Health()
}
