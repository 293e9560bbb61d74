package csvdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ssuji15/trainpool/model"
)

var ErrNoRows = errors.New("csvdata: no data rows")

// Load reads a dataset from a CSV file with a header row. The column
// named response, or the last column when response is empty, becomes
// the response column.
func Load(path, response string) (*model.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, response)
}

// Read parses CSV data. A column whose cells all parse as numbers is
// continuous; any other column is categorical with classes numbered in
// order of first appearance.
func Read(r io.Reader, response string) (*model.Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csvdata: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrNoRows
	}
	header, rows := records[0], records[1:]

	respIdx := len(header) - 1
	if response != "" {
		respIdx = -1
		for i, name := range header {
			if strings.TrimSpace(name) == response {
				respIdx = i
				break
			}
		}
		if respIdx < 0 {
			return nil, fmt.Errorf("csvdata: no column named %q", response)
		}
	}

	var (
		columns []model.Column
		resp    model.Column
	)
	for i, name := range header {
		cells := make([]string, len(rows))
		for j, row := range rows {
			cells[j] = strings.TrimSpace(row[i])
		}
		name = strings.TrimSpace(name)
		if i == respIdx {
			resp = categorical(name, cells)
			continue
		}
		if values, ok := numeric(cells); ok {
			columns = append(columns, model.Column{Name: name, Type: model.Continuous, Values: values})
		} else {
			columns = append(columns, categorical(name, cells))
		}
	}
	return model.NewDataset(columns, resp)
}

func numeric(cells []string) ([]float64, bool) {
	values := make([]float64, len(cells))
	for i, c := range cells {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

func categorical(name string, cells []string) model.Column {
	index := map[string]uint32{}
	col := model.Column{Name: name, Type: model.Categorical, Categories: make([]uint32, len(cells))}
	for i, c := range cells {
		idx, ok := index[c]
		if !ok {
			idx = uint32(len(col.Classes))
			index[c] = idx
			col.Classes = append(col.Classes, c)
		}
		col.Categories[i] = idx
	}
	return col
}
