package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// HashSize is the size in bytes of a dataset digest.
const HashSize = sha256.Size

// Hash identifies a dataset by the digest of its serialized form.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes the hex form produced by Hash.String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash %q: expected %d bytes, got %d", s, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

type ColumnType uint8

const (
	Categorical ColumnType = iota
	Continuous
	Text
)

func (t ColumnType) String() string {
	switch t {
	case Categorical:
		return "categorical"
	case Continuous:
		return "continuous"
	case Text:
		return "text"
	default:
		return fmt.Sprintf("ColumnType(%d)", uint8(t))
	}
}

// Column holds one typed column of a dataset. Only the slice matching
// Type is populated.
type Column struct {
	Name       string     `msgpack:"name"`
	Type       ColumnType `msgpack:"type"`
	Values     []float64  `msgpack:"values,omitempty"`
	Categories []uint32   `msgpack:"categories,omitempty"`
	Classes    []string   `msgpack:"classes,omitempty"`
	Text       []string   `msgpack:"text,omitempty"`
}

func (c *Column) Len() int {
	switch c.Type {
	case Continuous:
		return len(c.Values)
	case Text:
		return len(c.Text)
	default:
		return len(c.Categories)
	}
}

// Class returns the label of the category stored at row.
func (c *Column) Class(row int) string {
	idx := c.Categories[row]
	if int(idx) < len(c.Classes) {
		return c.Classes[idx]
	}
	return ""
}

func (c *Column) validate(rows int) error {
	if c.Len() != rows {
		return fmt.Errorf("column %q has %d entries, expected %d", c.Name, c.Len(), rows)
	}
	if c.Type == Categorical {
		for i, v := range c.Categories {
			if int(v) >= len(c.Classes) {
				return fmt.Errorf("column %q row %d: category %d out of range", c.Name, i, v)
			}
		}
	}
	return nil
}

// Dataset is a sanitized, immutable training set. Identity is Hash.
type Dataset struct {
	Columns  []Column `msgpack:"columns"`
	Response Column   `msgpack:"response"`
	Rows     int      `msgpack:"rows"`
	Hash     Hash     `msgpack:"-"`
}

// NewDataset validates the columns and computes the dataset hash.
func NewDataset(columns []Column, response Column) (*Dataset, error) {
	if response.Type != Categorical {
		return nil, fmt.Errorf("response column must be categorical, got %s", response.Type)
	}
	d := &Dataset{
		Columns:  columns,
		Response: response,
		Rows:     response.Len(),
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	b, err := d.Encode()
	if err != nil {
		return nil, err
	}
	d.Hash = sha256.Sum256(b)
	return d, nil
}

func (d *Dataset) validate() error {
	if err := d.Response.validate(d.Rows); err != nil {
		return err
	}
	for i := range d.Columns {
		if err := d.Columns[i].validate(d.Rows); err != nil {
			return err
		}
	}
	return nil
}

// Encode returns the canonical serialized form the hash is computed over.
func (d *Dataset) Encode() ([]byte, error) {
	b, err := msgpack.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dataset: %w", err)
	}
	return b, nil
}

// DecodeDataset parses a serialized dataset and recomputes its hash from
// the received bytes, so a corrupted payload never carries the claimed hash.
func DecodeDataset(b []byte) (*Dataset, error) {
	d := &Dataset{}
	if err := msgpack.Unmarshal(b, d); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	d.Hash = sha256.Sum256(b)
	return d, nil
}

// NumClasses is the number of distinct response classes.
func (d *Dataset) NumClasses() int {
	return len(d.Response.Classes)
}
