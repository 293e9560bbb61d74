package wire

import (
	"fmt"

	"github.com/ssuji15/trainpool/model"
)

type Opcode uint8

const (
	TrainModel  Opcode = 0x01
	SendDataset Opcode = 0x02
	RecvDataset Opcode = 0x03

	OK             Opcode = 0x80
	DatasetUnknown Opcode = 0x81
	FactoryUnknown Opcode = 0x82
	DuplData       Opcode = 0x83
	DataError      Opcode = 0x84
	ReadError      Opcode = 0x85
)

func (o Opcode) String() string {
	switch o {
	case TrainModel:
		return "TRAIN_MODEL"
	case SendDataset:
		return "SEND_DATASET"
	case RecvDataset:
		return "RECV_DATASET"
	case OK:
		return "OK"
	case DatasetUnknown:
		return "DATASET_UNKNOWN"
	case FactoryUnknown:
		return "FACTORY_UNKNOWN"
	case DuplData:
		return "DUPL_DATA"
	case DataError:
		return "DATA_ERROR"
	case ReadError:
		return "READ_ERROR"
	default:
		return fmt.Sprintf("OPCODE(0x%02x)", uint8(o))
	}
}

// Request is one of the three request kinds a training server accepts.
type Request interface {
	Op() Opcode
	encode(w *Writer)
}

// TrainModelRequest asks a server to train Strategy on a cached dataset.
type TrainModelRequest struct {
	Hash     model.Hash
	Strategy string
}

func (TrainModelRequest) Op() Opcode { return TrainModel }

func (r *TrainModelRequest) encode(w *Writer) {
	w.WriteHash(r.Hash)
	w.WriteString(r.Strategy)
}

// SendDatasetRequest asks a server to send back a cached dataset.
type SendDatasetRequest struct {
	Hash model.Hash
}

func (SendDatasetRequest) Op() Opcode { return SendDataset }

func (r *SendDatasetRequest) encode(w *Writer) {
	w.WriteHash(r.Hash)
}

// RecvDatasetRequest asks a server to store a dataset. With an empty
// RelayHost the dataset travels inline; otherwise the server fetches it
// from the relay.
type RecvDatasetRequest struct {
	Hash      model.Hash
	RelayHost string
	RelayPort int
	Dataset   *model.Dataset
}

func (RecvDatasetRequest) Op() Opcode { return RecvDataset }

func (r *RecvDatasetRequest) Inline() bool {
	return r.RelayHost == ""
}

func (r *RecvDatasetRequest) encode(w *Writer) {
	w.WriteHash(r.Hash)
	w.WriteString(r.RelayHost)
	w.WriteUvarint(uint64(r.RelayPort))
	if r.Inline() {
		WriteDataset(w, r.Dataset)
	}
}

// WriteRequest encodes req including its opcode. The caller flushes.
func WriteRequest(w *Writer, req Request) {
	w.WriteOpcode(req.Op())
	req.encode(w)
}

// ReadRequest decodes the opcode and the request header. The inline
// dataset body of a RECV_DATASET request is left on the stream: the
// server decides whether to read it with ReadDataset.
func ReadRequest(r *Reader) (Request, error) {
	op := r.ReadOpcode()
	if r.Err() != nil {
		return nil, r.Err()
	}
	var req Request
	switch op {
	case TrainModel:
		h := r.ReadHash()
		name := r.ReadString()
		req = &TrainModelRequest{Hash: h, Strategy: name}
	case SendDataset:
		req = &SendDatasetRequest{Hash: r.ReadHash()}
	case RecvDataset:
		h := r.ReadHash()
		host := r.ReadString()
		port := r.ReadUvarint()
		if port > 65535 {
			return nil, fmt.Errorf("wire: relay port %d out of range", port)
		}
		req = &RecvDatasetRequest{Hash: h, RelayHost: host, RelayPort: int(port)}
	default:
		return nil, fmt.Errorf("wire: unknown request %s", op)
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return req, nil
}

func WriteDataset(w *Writer, d *model.Dataset) {
	if d == nil {
		w.WriteBytes(nil)
		return
	}
	b, err := d.Encode()
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return
	}
	w.WriteBytes(b)
}

// ReadDataset decodes a dataset blob. The returned dataset's hash is
// computed from the received bytes.
func ReadDataset(r *Reader) (*model.Dataset, error) {
	b := r.ReadBytes()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("wire: empty dataset")
	}
	return model.DecodeDataset(b)
}

// WriteCode encodes a trained program. A nil code is written as an empty
// blob, which ReadCode reports as (nil, nil).
func WriteCode(w *Writer, c *model.Code) {
	if c == nil {
		w.WriteBytes(nil)
		return
	}
	b, err := model.EncodeCode(c)
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return
	}
	w.WriteBytes(b)
}

func ReadCode(r *Reader) (*model.Code, error) {
	b := r.ReadBytes()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if len(b) == 0 {
		return nil, nil
	}
	return model.DecodeCode(b)
}
