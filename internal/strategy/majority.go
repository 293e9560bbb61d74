package strategy

import (
	"context"

	"github.com/ssuji15/trainpool/model"
)

// Majority always predicts the most frequent response class.
type Majority struct{}

func (Majority) Name() string { return "majority" }

func (m Majority) Train(ctx context.Context, d *model.Dataset) (*model.Code, error) {
	if d.Rows == 0 {
		return nil, ErrEmptyDataset
	}
	class, _ := majority(d.Response.Categories, d.NumClasses(), nil)
	return &model.Code{
		Strategy: m.Name(),
		Root:     &model.Node{Kind: model.NodeClass, Class: class},
	}, nil
}

// majority returns the most frequent class among the rows selected by
// keep (all rows when keep is nil) and how often it occurs. Ties go to the
// lower class index.
func majority(labels []uint32, classes int, keep func(row int) bool) (uint32, int) {
	if classes == 0 {
		return 0, 0
	}
	counts := make([]int, classes)
	for row, l := range labels {
		if keep == nil || keep(row) {
			counts[l]++
		}
	}
	var best uint32
	for c := range counts {
		if counts[c] > counts[best] {
			best = uint32(c)
		}
	}
	return best, counts[best]
}
