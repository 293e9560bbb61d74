package model

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type NodeKind uint8

const (
	// NodeClass returns Class.
	NodeClass NodeKind = iota
	// NodeLess branches on Columns[Column].Values[row] < Threshold.
	NodeLess
	// NodeEqual branches on Columns[Column].Categories[row] == Category.
	NodeEqual
)

// Node is one instruction of a trained prediction program. Branch nodes
// evaluate Then when their condition holds and Else otherwise.
type Node struct {
	Kind      NodeKind `msgpack:"k"`
	Column    int      `msgpack:"c,omitempty"`
	Threshold float64  `msgpack:"t,omitempty"`
	Category  uint32   `msgpack:"g,omitempty"`
	Class     uint32   `msgpack:"r,omitempty"`
	Then      *Node    `msgpack:"then,omitempty"`
	Else      *Node    `msgpack:"else,omitempty"`
}

// Code is a trained artifact produced by a strategy. Apart from scoring,
// the training pool only moves it around as bytes.
type Code struct {
	Strategy string `msgpack:"strategy"`
	Root     *Node  `msgpack:"root"`
}

// Predict evaluates the program against one dataset row and returns the
// index of the predicted response class.
func (c *Code) Predict(d *Dataset, row int) (uint32, error) {
	n := c.Root
	for depth := 0; n != nil; depth++ {
		if depth > maxDepth {
			return 0, fmt.Errorf("program exceeds max depth %d", maxDepth)
		}
		switch n.Kind {
		case NodeClass:
			return n.Class, nil
		case NodeLess:
			col, err := column(d, n.Column, Continuous)
			if err != nil {
				return 0, err
			}
			if col.Values[row] < n.Threshold {
				n = n.Then
			} else {
				n = n.Else
			}
		case NodeEqual:
			col, err := column(d, n.Column, Categorical)
			if err != nil {
				return 0, err
			}
			if col.Categories[row] == n.Category {
				n = n.Then
			} else {
				n = n.Else
			}
		default:
			return 0, fmt.Errorf("unknown node kind %d", n.Kind)
		}
	}
	return 0, fmt.Errorf("program has a dangling branch")
}

const maxDepth = 256

func column(d *Dataset, i int, t ColumnType) (*Column, error) {
	if i < 0 || i >= len(d.Columns) {
		return nil, fmt.Errorf("column %d out of range", i)
	}
	col := &d.Columns[i]
	if col.Type != t {
		return nil, fmt.Errorf("column %d is %s, expected %s", i, col.Type, t)
	}
	return col, nil
}

// Score counts the rows of d whose response the program predicts
// correctly. A program that cannot be evaluated scores zero.
func (c *Code) Score(d *Dataset) int64 {
	var score int64
	for row := 0; row < d.Rows; row++ {
		p, err := c.Predict(d, row)
		if err != nil {
			return 0
		}
		if p == d.Response.Categories[row] {
			score++
		}
	}
	return score
}

func EncodeCode(c *Code) ([]byte, error) {
	b, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode code: %w", err)
	}
	return b, nil
}

func DecodeCode(b []byte) (*Code, error) {
	c := &Code{}
	if err := msgpack.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("failed to decode code: %w", err)
	}
	if c.Root == nil {
		return nil, fmt.Errorf("failed to decode code: empty program")
	}
	return c, nil
}
