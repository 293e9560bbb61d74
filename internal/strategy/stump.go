package strategy

import (
	"context"
	"sort"

	"github.com/ssuji15/trainpool/model"
)

// Stump learns a single split: the threshold on a continuous column, or
// the category test on a categorical column, that predicts the most rows
// correctly with a majority class on each side. It falls back to a
// constant program when no split beats the overall majority.
type Stump struct{}

func (Stump) Name() string { return "stump" }

type split struct {
	node    *model.Node
	correct int
}

func (s Stump) Train(ctx context.Context, d *model.Dataset) (*model.Code, error) {
	if d.Rows == 0 {
		return nil, ErrEmptyDataset
	}
	labels := d.Response.Categories
	classes := d.NumClasses()

	class, correct := majority(labels, classes, nil)
	best := split{
		node:    &model.Node{Kind: model.NodeClass, Class: class},
		correct: correct,
	}

	for i := range d.Columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col := &d.Columns[i]
		var candidates []split
		switch col.Type {
		case model.Continuous:
			candidates = thresholdSplits(i, col.Values, labels, classes)
		case model.Categorical:
			candidates = categorySplits(i, col, labels, classes)
		}
		for _, c := range candidates {
			if c.correct > best.correct {
				best = c
			}
		}
	}

	return &model.Code{Strategy: s.Name(), Root: best.node}, nil
}

func thresholdSplits(column int, values []float64, labels []uint32, classes int) []split {
	uniq := append([]float64(nil), values...)
	sort.Float64s(uniq)
	n := 0
	for i, v := range uniq {
		if i == 0 || v != uniq[n-1] {
			uniq[n] = v
			n++
		}
	}
	uniq = uniq[:n]

	splits := make([]split, 0, len(uniq))
	for i := 1; i < len(uniq); i++ {
		t := (uniq[i-1] + uniq[i]) / 2
		below, nb := majority(labels, classes, func(row int) bool { return values[row] < t })
		above, na := majority(labels, classes, func(row int) bool { return values[row] >= t })
		splits = append(splits, split{
			node: &model.Node{
				Kind:      model.NodeLess,
				Column:    column,
				Threshold: t,
				Then:      &model.Node{Kind: model.NodeClass, Class: below},
				Else:      &model.Node{Kind: model.NodeClass, Class: above},
			},
			correct: nb + na,
		})
	}
	return splits
}

func categorySplits(column int, col *model.Column, labels []uint32, classes int) []split {
	splits := make([]split, 0, len(col.Classes))
	for c := range col.Classes {
		cat := uint32(c)
		in, ni := majority(labels, classes, func(row int) bool { return col.Categories[row] == cat })
		out, no := majority(labels, classes, func(row int) bool { return col.Categories[row] != cat })
		splits = append(splits, split{
			node: &model.Node{
				Kind:     model.NodeEqual,
				Column:   column,
				Category: cat,
				Then:     &model.Node{Kind: model.NodeClass, Class: in},
				Else:     &model.Node{Kind: model.NodeClass, Class: out},
			},
			correct: ni + no,
		})
	}
	return splits
}
