package testutil

import (
	"testing"

	"github.com/ssuji15/trainpool/model"
	"github.com/stretchr/testify/require"
)

// Dataset builds a small two-column dataset whose label is age >= 30.
// Different offsets produce datasets with different hashes.
func Dataset(t testing.TB, offset float64) *model.Dataset {
	t.Helper()
	ages := []float64{12 + offset, 25 + offset, 31 + offset, 47 + offset, 18 + offset, 60 + offset}
	labels := make([]uint32, len(ages))
	colors := make([]uint32, len(ages))
	for i, a := range ages {
		if a >= 30 {
			labels[i] = 1
		}
		colors[i] = uint32(i % 3)
	}
	d, err := model.NewDataset([]model.Column{
		{Name: "age", Type: model.Continuous, Values: ages},
		{Name: "color", Type: model.Categorical, Categories: colors, Classes: []string{"red", "green", "blue"}},
	}, model.Column{Name: "label", Type: model.Categorical, Categories: labels, Classes: []string{"young", "old"}})
	require.NoError(t, err)
	return d
}
