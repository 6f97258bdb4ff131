package pointsrc

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/meshforest/shatter/extent"
)

// CSVReader is a minimal reference Reader over a delimited text file whose
// first row names its columns (X and Y required, any further numeric
// columns treated as additional attributes). It exists to give
// cmd/shatter something concrete to drive end to end; production
// deployments are expected to supply their own Reader over whatever
// point-cloud pipeline they already run (spec §1 Non-goals: the reader
// itself is an external collaborator, not this module's concern).
type CSVReader struct {
	path string
}

// NewCSVReader builds a CSVReader over path. The file is opened and
// scanned fresh on every QuickInfo/Read call; this reader is safe for
// concurrent use (each call opens its own file handle) but is not
// performance-oriented.
func NewCSVReader(path string) *CSVReader {
	return &CSVReader{path: path}
}

func (r *CSVReader) open() (*os.File, *csv.Reader, []string, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, nil, nil, err
	}
	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		f.Close()
		return nil, nil, nil, err
	}
	return f, cr, header, nil
}

func (r *CSVReader) QuickInfo(ctx context.Context) (QuickInfo, error) {
	f, cr, header, err := r.open()
	if err != nil {
		return QuickInfo{}, err
	}
	defer f.Close()

	xIdx, yIdx := indexOf(header, "X"), indexOf(header, "Y")
	if xIdx < 0 || yIdx < 0 {
		return QuickInfo{}, errors.New("pointsrc: csv header missing X or Y")
	}

	rect := extent.Rect{}
	first := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return QuickInfo{}, err
		}
		x, _ := strconv.ParseFloat(row[xIdx], 64)
		y, _ := strconv.ParseFloat(row[yIdx], 64)
		if first {
			rect = extent.Rect{MinX: x, MinY: y, MaxX: x, MaxY: y}
			first = false
			continue
		}
		if x < rect.MinX {
			rect.MinX = x
		}
		if x > rect.MaxX {
			rect.MaxX = x
		}
		if y < rect.MinY {
			rect.MinY = y
		}
		if y > rect.MaxY {
			rect.MaxY = y
		}
	}

	return QuickInfo{Bounds: rect, SRS: ""}, nil
}

func (r *CSVReader) Read(ctx context.Context, bounds extent.Rect, attrs []string, opts Options) (PointBatch, error) {
	f, cr, header, err := r.open()
	if err != nil {
		return PointBatch{}, err
	}
	defer f.Close()

	xIdx, yIdx := indexOf(header, "X"), indexOf(header, "Y")
	if xIdx < 0 || yIdx < 0 {
		return PointBatch{}, errors.New("pointsrc: csv header missing X or Y")
	}

	attrIdx := make(map[string]int, len(attrs))
	for _, a := range attrs {
		if i := indexOf(header, a); i >= 0 {
			attrIdx[a] = i
		}
	}

	columns := map[string][]float64{"X": {}, "Y": {}}
	for _, a := range attrs {
		columns[a] = []float64{}
	}

	n := 0
	for {
		select {
		case <-ctx.Done():
			return PointBatch{}, ctx.Err()
		default:
		}

		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return PointBatch{}, err
		}

		x, _ := strconv.ParseFloat(row[xIdx], 64)
		y, _ := strconv.ParseFloat(row[yIdx], 64)
		if x < bounds.MinX || x >= bounds.MaxX || y < bounds.MinY || y >= bounds.MaxY {
			continue
		}

		columns["X"] = append(columns["X"], x)
		columns["Y"] = append(columns["Y"], y)
		for _, a := range attrs {
			idx, ok := attrIdx[a]
			v := 0.0
			if ok {
				v, _ = strconv.ParseFloat(row[idx], 64)
			}
			columns[a] = append(columns[a], v)
		}
		n++
	}

	return PointBatch{Len: n, Columns: columns}, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}
