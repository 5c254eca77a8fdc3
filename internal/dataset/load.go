package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

// LoadCSV reads a CSV document with a header row. The column named target
// holds the regression target; an empty target selects the last column.
// Every other column is a feature.
func LoadCSV(r io.Reader, target string) (Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Dataset{}, errors.Wrap(err, errors.ErrInvalidConfiguration, "read csv header")
	}
	if len(header) < 2 {
		return Dataset{}, errors.Newf(errors.ErrInvalidConfiguration,
			"csv needs at least one feature and one target column, got %d columns", len(header))
	}

	targetCol := len(header) - 1
	if target != "" {
		targetCol = -1
		for i, name := range header {
			if strings.TrimSpace(name) == target {
				targetCol = i
				break
			}
		}
		if targetCol < 0 {
			return Dataset{}, errors.Newf(errors.ErrInvalidConfiguration, "target column %q not in header", target)
		}
	}

	var (
		rows [][]float64
		y    []float64
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, errors.Wrapf(err, errors.ErrInvalidConfiguration, "read csv line %d", line)
		}

		row := make([]float64, 0, len(record)-1)
		for i, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return Dataset{}, errors.Wrapf(err, errors.ErrInvalidConfiguration,
					"line %d column %q", line, header[i])
			}
			if i == targetCol {
				y = append(y, v)
				continue
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	return FromRows(rows, y)
}

// ParseJSON reads {"features": [[...], ...], "targets": [...]}.
func ParseJSON(doc []byte) (Dataset, error) {
	if !gjson.ValidBytes(doc) {
		return Dataset{}, errors.New(errors.ErrInvalidConfiguration, "dataset is not valid JSON")
	}
	return FromJSON(gjson.ParseBytes(doc))
}

// FromJSON reads a dataset from an already parsed JSON value.
func FromJSON(v gjson.Result) (Dataset, error) {
	features := v.Get("features")
	targets := v.Get("targets")
	if !features.IsArray() || !targets.IsArray() {
		return Dataset{}, errors.New(errors.ErrInvalidConfiguration, "dataset needs features and targets arrays")
	}

	var rows [][]float64
	var bad error
	features.ForEach(func(_, row gjson.Result) bool {
		if !row.IsArray() {
			bad = errors.Newf(errors.ErrInvalidConfiguration, "feature row %d is not an array", len(rows))
			return false
		}
		vals, err := numbers(row)
		if err != nil {
			bad = err
			return false
		}
		rows = append(rows, vals)
		return true
	})
	if bad != nil {
		return Dataset{}, bad
	}

	y, err := numbers(targets)
	if err != nil {
		return Dataset{}, err
	}
	return FromRows(rows, y)
}

func numbers(arr gjson.Result) ([]float64, error) {
	items := arr.Array()
	out := make([]float64, len(items))
	for i, item := range items {
		if item.Type != gjson.Number {
			return nil, errors.Newf(errors.ErrInvalidConfiguration, "expected a number, got %s", item.Raw)
		}
		out[i] = item.Float()
	}
	return out, nil
}
