package metric

import (
	"errors"

	stgpsr "github.com/yuin/stagparser"
)

var ErrDtypeTag = errors.New("metric: dtype tag not found")

// dtypeTags declares each built-in metric's TileDB storage datatype and
// compression filter pipeline using the same tag grammar the storage
// package's attribute builder parses (dtype=..., ftype=attr /
// filters:"zstd(level=...)"). The struct is never instantiated for data; it
// exists purely as a tag carrier for stagparser.ParseStruct, the way the
// teacher declares per-field TileDB attributes via reflection over a
// tagged struct instead of a hand-written table.
type dtypeTags struct {
	Count       struct{} `tiledb:"dtype=int64,ftype=attr" filters:"zstd(level=16)"`
	Mean        struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Median      struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Min         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Max         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Mode        struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Stddev      struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Variance    struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Cv          struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Abovemean   struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Abovemode   struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Skewness    struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Kurtosis    struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Aad         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Madmedian   struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Madmean     struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Madmode     struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Iq          struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Nn90m10     struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Nn95m05     struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Crr         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Sqmean      struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Cumean      struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	L1          struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	L2          struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	L3          struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	L4          struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Lcv         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Lskewness   struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Lkurtosis   struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P01         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P05         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P10         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P20         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P25         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P30         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P40         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P50         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P60         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P70         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P75         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P80         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P90         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P95         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	P99         struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Allcover    struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
	Profilearea struct{} `tiledb:"dtype=float32,ftype=attr" filters:"zstd(level=16)"`
}

// fieldToMetric maps the PascalCase tag-carrier field name back to the
// metric's canonical (lowercase, sometimes leading-digit) registry key.
var fieldToMetric = map[string]string{
	"Count": "count", "Mean": "mean", "Median": "median", "Min": "min",
	"Max": "max", "Mode": "mode", "Stddev": "stddev", "Variance": "variance",
	"Cv": "cv", "Abovemean": "abovemean", "Abovemode": "abovemode",
	"Skewness": "skewness", "Kurtosis": "kurtosis", "Aad": "aad",
	"Madmedian": "madmedian", "Madmean": "madmean", "Madmode": "madmode",
	"Iq": "iq", "Nn90m10": "90m10", "Nn95m05": "95m05", "Crr": "crr",
	"Sqmean": "sqmean", "Cumean": "cumean", "L1": "l1", "L2": "l2",
	"L3": "l3", "L4": "l4", "Lcv": "lcv", "Lskewness": "lskewness",
	"Lkurtosis": "lkurtosis", "P01": "p01", "P05": "p05", "P10": "p10",
	"P20": "p20", "P25": "p25", "P30": "p30", "P40": "p40", "P50": "p50",
	"P60": "p60", "P70": "p70", "P75": "p75", "P80": "p80", "P90": "p90",
	"P95": "p95", "P99": "p99", "Allcover": "allcover",
	"Profilearea": "profilearea",
}

// dtypeTable reflects over dtypeTags and returns metric name -> tiledb dtype
// tag value ("float32", "int64", ...).
func dtypeTable() (map[string]string, error) {
	tdbDefs, err := stgpsr.ParseStruct(&dtypeTags{}, "tiledb")
	if err != nil {
		return nil, errors.Join(ErrDtypeTag, err)
	}

	out := make(map[string]string, len(fieldToMetric))
	for field, metricName := range fieldToMetric {
		defs, ok := tdbDefs[field]
		if !ok {
			return nil, errors.Join(ErrDtypeTag, errors.New(field))
		}
		found := false
		for _, def := range defs {
			if def.Name() != "dtype" {
				continue
			}
			v, ok := def.Attribute("dtype")
			if !ok {
				continue
			}
			out[metricName] = v.(string)
			found = true
		}
		if !found {
			return nil, errors.Join(ErrDtypeTag, errors.New(field))
		}
	}
	return out, nil
}
