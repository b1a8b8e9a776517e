package resample

import (
	"fmt"
	"sort"
	"time"

	"github.com/gridfeed/elecdata/internal/model"
)

// fillKind selects the upsampling behavior of a series.
type fillKind int

const (
	fillStep   fillKind = iota // forward-fill across the finer grid
	fillLinear                 // linear interpolation between samples
)

// aggKind selects the downsampling behavior of a series.
type aggKind int

const (
	aggMean         aggKind = iota // arithmetic mean, overlap-weighted
	aggWeightedMean                // volume-weighted mean, falls back to mean
	aggSum                         // overlap-apportioned sum
)

type rule struct {
	up   fillKind
	down aggKind
}

// ruleFor is the closed dispatch table. It is exhaustive over the
// observation variants; cumulative energy series are distinguished by
// their MWh unit.
func ruleFor(dt model.DataType, unit model.Unit) (rule, error) {
	switch dt {
	case model.DataTypePrices:
		return rule{up: fillStep, down: aggWeightedMean}, nil
	case model.DataTypeDemand, model.DataTypeGeneration:
		if unit == model.UnitMWh {
			return rule{up: fillLinear, down: aggSum}, nil
		}
		return rule{up: fillLinear, down: aggMean}, nil
	case model.DataTypeFlows:
		return rule{up: fillLinear, down: aggMean}, nil
	default:
		return rule{}, fmt.Errorf("no resampling rule for data type %q", dt)
	}
}

// Resample projects rows onto targetMinutes resolution. Rows may span
// several series (e.g. one generation row per fuel per timestamp);
// each series is resampled independently and the result is re-sorted
// by timestamp. Rows already at the target resolution pass through
// unchanged.
func Resample(rows []model.Observation, targetMinutes int) ([]model.Observation, error) {
	if targetMinutes <= 0 {
		return nil, fmt.Errorf("invalid target resolution: %d", targetMinutes)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var out []model.Observation
	for _, series := range groupSeries(rows) {
		resampled, err := resampleSeries(series, targetMinutes)
		if err != nil {
			return nil, err
		}
		out = append(out, resampled...)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Timestamp(), out[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func resampleSeries(series []model.Observation, targetMinutes int) ([]model.Observation, error) {
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp().Before(series[j].Timestamp())
	})

	native := series[0].Resolution()
	for _, obs := range series[1:] {
		if obs.Resolution() != native {
			return nil, fmt.Errorf("mixed native resolutions in one series: %d and %d", native, obs.Resolution())
		}
	}

	r, err := ruleFor(series[0].Type(), seriesUnit(series[0]))
	if err != nil {
		return nil, err
	}

	switch {
	case targetMinutes == native:
		return series, nil
	case targetMinutes < native:
		// A target that does not divide the native span would restart the
		// fine grid at every native boundary and produce unevenly spaced
		// rows, so it is rejected rather than mislabeled.
		if native%targetMinutes != 0 {
			return nil, fmt.Errorf("target resolution %dm does not divide native %dm", targetMinutes, native)
		}
		return upsample(series, native, targetMinutes, r.up), nil
	default:
		return downsample(series, native, targetMinutes, r.down), nil
	}
}

// upsample produces a finer grid across each native sample's span.
// Grid points coinciding with a native sample keep its observed value;
// everything else is synthesized and flagged Interpolated.
func upsample(series []model.Observation, native, target int, kind fillKind) []model.Observation {
	step := time.Duration(target) * time.Minute
	span := time.Duration(native) * time.Minute

	var out []model.Observation
	for i, obs := range series {
		start := obs.Timestamp()
		v0 := value(obs)

		var next *model.Observation
		if i+1 < len(series) {
			n := series[i+1]
			// Linear interpolation needs a contiguous successor.
			if n.Timestamp().Equal(start.Add(span)) {
				next = &n
			}
		}

		for ts := start; ts.Before(start.Add(span)); ts = ts.Add(step) {
			v := v0
			interpolated := !ts.Equal(start)
			if kind == fillLinear && next != nil && interpolated {
				frac := float64(ts.Sub(start)) / float64(span)
				v = v0 + (value(*next)-v0)*frac
			}
			out = append(out, rebuild(obs, ts, target, v, interpolated))
		}
	}
	return out
}

// downsample aggregates native samples into target buckets aligned to
// the epoch grid. A native sample straddling a bucket boundary
// contributes to each bucket in proportion to the overlap, never by
// nearest-neighbor truncation.
func downsample(series []model.Observation, native, target int, kind aggKind) []model.Observation {
	span := time.Duration(native) * time.Minute
	width := time.Duration(target) * time.Minute

	type bucket struct {
		proto      model.Observation // first contributing sample, carries payload fields
		timeWeight float64
		timeSum    float64 // overlap-weighted values
		volWeight  float64
		volSum     float64 // overlap*volume-weighted values
		sum        float64 // overlap-apportioned sum (cumulative energy)
		volume     float64
		noVolume   bool // a contributing row reported no volume
		covered    time.Duration
	}
	buckets := make(map[int64]*bucket)

	for _, obs := range series {
		s := obs.Timestamp()
		e := s.Add(span)
		v := value(obs)

		for cur := s.Truncate(width); cur.Before(e); cur = cur.Add(width) {
			overlapStart := maxTime(cur, s)
			overlapEnd := minTime(cur.Add(width), e)
			overlap := overlapEnd.Sub(overlapStart)
			if overlap <= 0 {
				continue
			}

			key := cur.UnixMicro()
			b, ok := buckets[key]
			if !ok {
				b = &bucket{proto: obs}
				buckets[key] = b
			}

			w := float64(overlap)
			frac := float64(overlap) / float64(span)
			b.timeWeight += w
			b.timeSum += v * w
			b.sum += v * frac
			if kind == aggWeightedMean {
				if vol := volume(obs); vol > 0 {
					b.volWeight += w * vol
					b.volSum += v * w * vol
					b.volume += vol * frac
				} else {
					b.noVolume = true
				}
			}
			b.covered += overlap
		}
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]model.Observation, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		ts := time.UnixMicro(k).UTC()

		// A bucket mixing volume-bearing and volume-less rows falls back
		// to the time-weighted mean: the missing volumes are unknown, not
		// one, so partial volume weighting would skew the result.
		var v float64
		switch {
		case kind == aggSum:
			v = b.sum
		case kind == aggWeightedMean && !b.noVolume && b.volWeight > 0:
			v = b.volSum / b.volWeight
		default:
			v = b.timeSum / b.timeWeight
		}

		// A partially covered bucket is not a direct aggregate of
		// observed data; flag it.
		partial := b.covered < width
		row := rebuild(b.proto, ts, target, v, partial)
		if kind == aggWeightedMean {
			if p, ok := row.(model.Price); ok {
				p.VolumeMWh = b.volume
				row = p
			}
		}
		out = append(out, row)
	}
	return out
}

// -----------------------------------------------------------------------------
// Variant plumbing
// -----------------------------------------------------------------------------

// seriesKey identifies one resampleable series within a batch: all
// header discriminators except the timestamp.
func seriesKey(obs model.Observation) string {
	switch o := obs.(type) {
	case model.Price:
		return fmt.Sprintf("p|%s|%d|%s|%s", o.Market, o.ResolutionMinutes, o.PriceType, o.Currency)
	case model.Demand:
		return fmt.Sprintf("d|%s|%d|%s|%s", o.Market, o.ResolutionMinutes, o.DemandType, o.Unit)
	case model.Generation:
		return fmt.Sprintf("g|%s|%d|%s|%t|%s|%s", o.Market, o.ResolutionMinutes, o.FuelType, o.Unmapped, o.RawFuel, o.Unit)
	case model.Flow:
		return fmt.Sprintf("f|%s|%d|%s|%s", o.Market, o.ResolutionMinutes, o.FromMarket, o.ToMarket)
	default:
		return fmt.Sprintf("?|%T", obs)
	}
}

func groupSeries(rows []model.Observation) map[string][]model.Observation {
	groups := make(map[string][]model.Observation)
	for _, obs := range rows {
		k := seriesKey(obs)
		groups[k] = append(groups[k], obs)
	}
	return groups
}

func seriesUnit(obs model.Observation) model.Unit {
	switch o := obs.(type) {
	case model.Demand:
		if o.Unit != "" {
			return o.Unit
		}
	case model.Generation:
		if o.Unit != "" {
			return o.Unit
		}
	}
	return model.UnitMW
}

func value(obs model.Observation) float64 {
	switch o := obs.(type) {
	case model.Price:
		return o.Value
	case model.Demand:
		return o.MW
	case model.Generation:
		return o.MW
	case model.Flow:
		return o.MW
	}
	return 0
}

func volume(obs model.Observation) float64 {
	if p, ok := obs.(model.Price); ok {
		return p.VolumeMWh
	}
	return 0
}

// rebuild clones obs with a new timestamp, resolution, value, and
// interpolation flag, preserving the variant's payload discriminators.
func rebuild(obs model.Observation, ts time.Time, resolution int, v float64, interpolated bool) model.Observation {
	switch o := obs.(type) {
	case model.Price:
		o.TimestampUTC = ts
		o.ResolutionMinutes = resolution
		o.Value = v
		o.Interpolated = interpolated
		return o
	case model.Demand:
		o.TimestampUTC = ts
		o.ResolutionMinutes = resolution
		o.MW = v
		o.Interpolated = interpolated
		return o
	case model.Generation:
		o.TimestampUTC = ts
		o.ResolutionMinutes = resolution
		o.MW = v
		o.Interpolated = interpolated
		return o
	case model.Flow:
		o.TimestampUTC = ts
		o.ResolutionMinutes = resolution
		o.MW = v
		o.Interpolated = interpolated
		return o
	}
	return obs
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
