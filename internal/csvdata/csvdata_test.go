package csvdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ssuji15/trainpool/model"
	"github.com/stretchr/testify/require"
)

const sample = `age, color, label
12, red, young
25, green, young
31, blue, old
47, red, old
`

func TestRead(t *testing.T) {
	t.Parallel()

	d, err := Read(strings.NewReader(sample), "")
	require.NoError(t, err)
	require.Equal(t, 4, d.Rows)
	require.Len(t, d.Columns, 2)

	require.Equal(t, model.Continuous, d.Columns[0].Type)
	require.Equal(t, []float64{12, 25, 31, 47}, d.Columns[0].Values)
	require.Equal(t, model.Categorical, d.Columns[1].Type)
	require.Equal(t, []string{"red", "green", "blue"}, d.Columns[1].Classes)
	require.Equal(t, []uint32{0, 1, 2, 0}, d.Columns[1].Categories)

	require.Equal(t, "label", d.Response.Name)
	require.Equal(t, []string{"young", "old"}, d.Response.Classes)
	require.False(t, d.Hash.IsZero())
}

func TestReadNamedResponse(t *testing.T) {
	t.Parallel()

	d, err := Read(strings.NewReader(sample), "color")
	require.NoError(t, err)
	require.Equal(t, "color", d.Response.Name)
	require.Equal(t, []string{"age", "label"}, []string{d.Columns[0].Name, d.Columns[1].Name})
}

func TestReadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		response string
	}{
		{"header only", "a,b\n", ""},
		{"ragged rows", "a,b\n1,2\n3\n", ""},
		{"unknown response", sample, "height"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Read(strings.NewReader(tt.input), tt.response)
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	a, err := Load(path, "")
	require.NoError(t, err)
	b, err := Read(strings.NewReader(sample), "")
	require.NoError(t, err)
	require.Equal(t, a.Hash, b.Hash)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), "")
	require.Error(t, err)
}
