// Package indication turns a requested set of meter readings into the
// per-zone values to submit.
package indication

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/septivank/utility-sync-worker/internal/remote"
)

// Values maps zone id ("t1", "t2", ...) to a reading
type Values map[string]float64

// ZoneIDs returns the zone ids in sorted order
func (v Values) ZoneIDs() []string {
	ids := make([]string, 0, len(v))
	for id := range v {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var zoneIDPattern = regexp.MustCompile(`^t\d+$`)

// Resolve validates requested against the meter's zones and computes the
// values to submit. With incremental set, each requested value is added to
// the zone's last known indication.
func Resolve(meter *remote.Meter, requested any, incremental bool) (Values, error) {
	if meter == nil {
		return nil, invalid("meter", "meter is unavailable")
	}

	values, err := Normalize(requested)
	if err != nil {
		return nil, err
	}

	for _, zoneID := range values.ZoneIDs() {
		if _, ok := meter.Zones[zoneID]; !ok {
			return nil, invalid("indications", "meter zone %s does not exist", zoneID)
		}
	}

	if !incremental {
		return values, nil
	}

	resolved := make(Values, len(values))
	for zoneID, delta := range values {
		resolved[zoneID] = meter.Zones[zoneID].Baseline() + delta
	}
	return resolved, nil
}

// Normalize accepts a zone mapping, an ordered sequence, a single number or
// a comma-separated string and returns the equivalent zone mapping.
// Sequence position 1 maps to zone "t1".
func Normalize(requested any) (Values, error) {
	var (
		values Values
		err    error
	)

	switch v := requested.(type) {
	case nil:
		return nil, invalid("indications", "no indications provided")
	case Values:
		values, err = fromMapping(v)
	case map[string]float64:
		values, err = fromMapping(v)
	case map[string]any:
		values, err = fromAnyMapping(v)
	case []float64:
		values = fromSequence(v)
	case []any:
		seq := make([]float64, 0, len(v))
		for i, item := range v {
			f, convErr := toFloat(item)
			if convErr != nil {
				return nil, invalid("indications["+strconv.Itoa(i)+"]", "%v", convErr)
			}
			seq = append(seq, f)
		}
		values = fromSequence(seq)
	case string:
		values, err = fromString(v)
	default:
		f, convErr := toFloat(v)
		if convErr != nil {
			return nil, invalid("indications", "unsupported indications format %T", requested)
		}
		values = fromSequence([]float64{f})
	}
	if err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return nil, invalid("indications", "no indications provided")
	}
	for _, zoneID := range values.ZoneIDs() {
		if err := checkValue(zoneID, values[zoneID]); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func fromMapping(m map[string]float64) (Values, error) {
	values := make(Values, len(m))
	for zoneID, value := range m {
		if !zoneIDPattern.MatchString(zoneID) {
			return nil, invalid(zoneID, "zone id must look like t1, t2, ...")
		}
		values[zoneID] = value
	}
	return values, nil
}

func fromAnyMapping(m map[string]any) (Values, error) {
	plain := make(map[string]float64, len(m))
	for zoneID, raw := range m {
		f, err := toFloat(raw)
		if err != nil {
			return nil, invalid(zoneID, "%v", err)
		}
		plain[zoneID] = f
	}
	return fromMapping(plain)
}

func fromSequence(seq []float64) Values {
	values := make(Values, len(seq))
	for i, value := range seq {
		values["t"+strconv.Itoa(i+1)] = value
	}
	return values
}

func fromString(s string) (Values, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, invalid("indications", "no indications provided")
	}

	parts := strings.Split(s, ",")
	seq := make([]float64, 0, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, invalid("indications["+strconv.Itoa(i)+"]", "invalid indication value %q", strings.TrimSpace(part))
		}
		seq = append(seq, f)
	}
	return fromSequence(seq), nil
}

func checkValue(zoneID string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return invalid(zoneID, "indication must be a finite number")
	}
	if value < 0 {
		return invalid(zoneID, "negative value detected")
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, &ValidationError{Reason: "value is not a number"}
	}
}
