package pd0

import (
	"context"

	"example.com/pd0gate/internal/common"
)

// Decoder runs the index, leader and array passes over one source.
type Decoder struct {
	src     ByteSource
	opts    Options
	metrics *common.Metrics
}

// NewDecoder returns a decoder reading from src.
func NewDecoder(src ByteSource, opts Options) *Decoder {
	return &Decoder{src: src, opts: opts}
}

// SetMetrics attaches a recorder fed while indexing.
func (d *Decoder) SetMetrics(m *common.Metrics) {
	d.metrics = m
}

// Index scans the source, stopping early if ctx is cancelled.
func (d *Decoder) Index(ctx context.Context) (Index, Health) {
	return buildIndex(ctx, d.src, d.opts, d.metrics)
}

func (d *Decoder) resolveIndex(ctx context.Context, idx *Index) (*Index, Health, bool) {
	if idx != nil {
		return idx, healthy(idx.Len()), false
	}
	built, h := d.Index(ctx)
	return &built, h, true
}

// Dataset is everything decoded from one stream. Every component is cut to
// the same number of ensembles; the health of each component still reports
// where that component itself stopped.
type Dataset struct {
	Index          Index                     `json:"index"`
	IndexHealth    Health                    `json:"indexHealth"`
	Fixed          *FixedLeaderTable         `json:"fixedLeader"`
	FixedHealth    Health                    `json:"fixedLeaderHealth"`
	Variable       *VariableLeaderTable      `json:"variableLeader"`
	VariableHealth Health                    `json:"variableLeaderHealth"`
	Arrays         map[ArrayKind]*ArrayBlock `json:"arrays"`
	ArrayHealth    map[ArrayKind]Health      `json:"arrayHealth"`
	Ensembles      int                       `json:"ensembles"`
}

// Kinds lists the decoded array kinds in slot order.
func (ds *Dataset) Kinds() []ArrayKind {
	var out []ArrayKind
	for _, k := range ArrayKinds {
		if _, ok := ds.Arrays[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Health returns the first component health that is not OK, in index,
// leader, array order, or a healthy status for the common ensemble count.
func (ds *Dataset) Health() Health {
	for _, h := range []Health{ds.IndexHealth, ds.FixedHealth, ds.VariableHealth} {
		if !h.OK() {
			return h
		}
	}
	for _, k := range ds.Kinds() {
		if h := ds.ArrayHealth[k]; !h.OK() {
			return h
		}
	}
	if ds.IndexHealth.Condition == EndOfStream && ds.Ensembles == 0 {
		return ds.IndexHealth
	}
	return healthy(ds.Ensembles)
}

// Decode indexes the source and decodes both leaders plus every array kind
// whose block is present in the first ensemble. The returned error is only
// set when nothing usable was decoded or ctx was cancelled.
func (d *Decoder) Decode(ctx context.Context) (*Dataset, error) {
	ds := &Dataset{
		Arrays:      make(map[ArrayKind]*ArrayBlock),
		ArrayHealth: make(map[ArrayKind]Health),
	}
	ds.Index, ds.IndexHealth = d.Index(ctx)
	if ds.IndexHealth.Fatal() {
		return ds, ds.IndexHealth.Err()
	}
	if err := ctx.Err(); err != nil {
		return ds, err
	}
	idx := &ds.Index
	ds.Fixed, ds.FixedHealth = d.FixedLeader(ctx, idx)
	ds.Variable, ds.VariableHealth = d.VariableLeader(ctx, idx)
	for _, k := range advertisedKinds(ds.Index) {
		ds.Arrays[k], ds.ArrayHealth[k] = d.Array(ctx, idx, ds.Fixed, k)
	}
	if err := ctx.Err(); err != nil {
		return ds, err
	}
	ds.fixEnsembles()
	common.Logf("decoded %d ensembles: index %s", ds.Ensembles, ds.IndexHealth)
	return ds, nil
}

// advertisedKinds returns the array kinds whose slot and ID match the first
// ensemble.
func advertisedKinds(idx Index) []ArrayKind {
	if len(idx.Ensembles) == 0 {
		return nil
	}
	first := idx.Ensembles[0]
	var out []ArrayKind
	for _, k := range ArrayKinds {
		if k.Slot() <= len(first.Blocks) && k.Accepts(first.Blocks[k.Slot()-1].ID) {
			out = append(out, k)
		}
	}
	return out
}

// fixEnsembles cuts every component to the shortest one.
func (ds *Dataset) fixEnsembles() {
	n := ds.Index.Len()
	n = min(n, ds.Fixed.Len(), ds.Variable.Len())
	for _, a := range ds.Arrays {
		n = min(n, a.Ensembles)
	}
	if n < ds.Index.Len() {
		common.Logf("components disagree on ensemble count; keeping the first %d", n)
	}
	ds.Ensembles = n
	ds.Index.Ensembles = ds.Index.Ensembles[:n]
	ds.Fixed.Rows = ds.Fixed.Rows[:n]
	ds.Variable.Rows = ds.Variable.Rows[:n]
	for _, a := range ds.Arrays {
		a.Truncate(n)
	}
}
