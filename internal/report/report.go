package report

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"example.com/pd0gate/internal/pd0"
)

// Summary is the persisted outcome of decoding one file.
type Summary struct {
	File          string            `json:"file"`
	Digest        string            `json:"digest,omitempty"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	Ensembles     int               `json:"ensembles"`
	Health        pd0.Health        `json:"health"`
	Components    []ComponentHealth `json:"components"`
	Beams         int               `json:"beams"`
	Cells         int               `json:"cells"`
	Instrument    *Instrument       `json:"instrument,omitempty"`
	FirstEnsemble uint32            `json:"firstEnsemble,omitempty"`
	LastEnsemble  uint32            `json:"lastEnsemble,omitempty"`
	Arrays        []SeriesStats     `json:"arrays,omitempty"`
	Sensors       []SeriesStats     `json:"sensors,omitempty"`
	Check         *pd0.FileCheck    `json:"check,omitempty"`
}

type ComponentHealth struct {
	Name   string     `json:"name"`
	Health pd0.Health `json:"health"`
}

// Instrument echoes the configuration of the first ensemble.
type Instrument struct {
	CPUVersion       uint8  `json:"cpuVersion"`
	CPURevision      uint8  `json:"cpuRevision"`
	Serial           uint32 `json:"serial"`
	BeamAngle        uint8  `json:"beamAngle"`
	CellLength       uint16 `json:"cellLength"`
	Bin1Distance     uint16 `json:"bin1Distance"`
	PingsPerEnsemble uint16 `json:"pingsPerEnsemble"`
	SerialMissing    bool   `json:"serialMissing"`
}

// SeriesStats describes the valid samples of one variable.
type SeriesStats struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

// Summarize condenses a decoded dataset. Array statistics only cover the
// beams and cells each ensemble actually carried; velocity additionally
// skips the instrument's bad-value marker.
func Summarize(file, digest string, ds *pd0.Dataset) Summary {
	sum := Summary{
		File:        file,
		Digest:      digest,
		GeneratedAt: time.Now().UTC(),
		Ensembles:   ds.Ensembles,
		Health:      ds.Health(),
		Components: []ComponentHealth{
			{Name: "index", Health: ds.IndexHealth},
		},
	}
	if ds.Fixed == nil {
		return sum
	}
	sum.Components = append(sum.Components,
		ComponentHealth{Name: "fixed leader", Health: ds.FixedHealth},
		ComponentHealth{Name: "variable leader", Health: ds.VariableHealth},
	)
	for _, k := range ds.Kinds() {
		sum.Components = append(sum.Components, ComponentHealth{Name: k.String(), Health: ds.ArrayHealth[k]})
	}
	sum.Beams = ds.Fixed.MaxBeams()
	sum.Cells = ds.Fixed.MaxCells()
	if len(ds.Fixed.Rows) > 0 {
		f := ds.Fixed.Rows[0]
		sum.Instrument = &Instrument{
			CPUVersion:       f.CPUVersion,
			CPURevision:      f.CPURevision,
			Serial:           f.InstrumentSerial,
			BeamAngle:        f.BeamAngle,
			CellLength:       f.CellLength,
			Bin1Distance:     f.Bin1Distance,
			PingsPerEnsemble: f.PingsPerEnsemble,
			SerialMissing:    ds.Fixed.SerialMissing,
		}
	}
	if n := ds.Variable.Len(); n > 0 {
		sum.FirstEnsemble = ds.Variable.Rows[0].EnsembleNumber()
		sum.LastEnsemble = ds.Variable.Rows[n-1].EnsembleNumber()
		sum.Sensors = sensorStats(ds.Variable.Rows)
	}
	for _, k := range ds.Kinds() {
		sum.Arrays = append(sum.Arrays, arrayStats(ds.Arrays[k], ds.Fixed))
	}
	return sum
}

func arrayStats(a *pd0.ArrayBlock, fixed *pd0.FixedLeaderTable) SeriesStats {
	var xs []float64
	for e := 0; e < a.Ensembles && e < fixed.Len(); e++ {
		row := fixed.Rows[e]
		for b := 0; b < int(row.Beams); b++ {
			for c := 0; c < int(row.Cells); c++ {
				v := a.At(b, c, e)
				if a.Kind.Signed() && v == a.Kind.Fill() {
					continue
				}
				xs = append(xs, float64(v))
			}
		}
	}
	return describe(a.Kind.String(), xs)
}

func sensorStats(rows []pd0.VariableLeader) []SeriesStats {
	series := []struct {
		name string
		get  func(pd0.VariableLeader) float64
	}{
		{"heading", func(v pd0.VariableLeader) float64 { return float64(v.Heading) }},
		{"pitch", func(v pd0.VariableLeader) float64 { return float64(v.Pitch) }},
		{"roll", func(v pd0.VariableLeader) float64 { return float64(v.Roll) }},
		{"temperature", func(v pd0.VariableLeader) float64 { return float64(v.Temperature) }},
		{"sound speed", func(v pd0.VariableLeader) float64 { return float64(v.SoundSpeed) }},
		{"transducer depth", func(v pd0.VariableLeader) float64 { return float64(v.TransducerDepth) }},
		{"pressure", func(v pd0.VariableLeader) float64 { return float64(v.Pressure) }},
	}
	out := make([]SeriesStats, 0, len(series))
	for _, s := range series {
		xs := make([]float64, len(rows))
		for i, r := range rows {
			xs[i] = s.get(r)
		}
		out = append(out, describe(s.name, xs))
	}
	return out
}

// describe computes raw-count statistics; no unit scaling is applied.
func describe(name string, xs []float64) SeriesStats {
	st := SeriesStats{Name: name, Count: len(xs)}
	if len(xs) == 0 {
		return st
	}
	sort.Float64s(xs)
	st.Mean, st.StdDev = stat.MeanStdDev(xs, nil)
	if math.IsNaN(st.StdDev) {
		st.StdDev = 0
	}
	st.Min = floats.Min(xs)
	st.Max = floats.Max(xs)
	st.Median = stat.Quantile(0.5, stat.Empirical, xs, nil)
	return st
}

func SaveJSON(sum Summary, out string) error {
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Summary, error) {
	var sum Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return sum, err
	}
	err = json.Unmarshal(b, &sum)
	return sum, err
}
