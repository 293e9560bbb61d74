package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ssuji15/trainpool/internal/strategy"
	"github.com/ssuji15/trainpool/internal/wire"
	"github.com/ssuji15/trainpool/model"
)

const (
	// ChildEnv marks a process as a training child.
	ChildEnv = "TRAINER_SANDBOX_CHILD"
	// InputEnv and OutputEnv name request/result files for children that
	// cannot use inherited pipes (containers).
	InputEnv  = "TRAINER_SANDBOX_INPUT"
	OutputEnv = "TRAINER_SANDBOX_OUTPUT"

	resultFD = 3
)

// Child exit codes.
const (
	exitOK = iota
	exitIO
	exitBadRequest
	exitUnknownStrategy
	exitTrainFailed
)

// EncodeRequest serializes a training request for a child.
func EncodeRequest(strategy string, d *model.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteString(strategy)
	wire.WriteDataset(w, d)
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("sandbox: encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// RunChildIfRequested turns the current process into a training child
// when it was started by a launcher, and exits once the child is done.
// Binaries call it before doing anything else.
func RunChildIfRequested(reg *strategy.Registry) {
	if os.Getenv(ChildEnv) == "" {
		return
	}
	os.Exit(childMain(reg))
}

func childMain(reg *strategy.Registry) int {
	if in := os.Getenv(InputEnv); in != "" {
		f, err := os.Open(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sandbox child: %v\n", err)
			return exitIO
		}
		defer f.Close()
		var out bytes.Buffer
		rc := runChild(reg, f, &out)
		if rc == exitOK {
			if err := os.WriteFile(os.Getenv(OutputEnv), out.Bytes(), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "sandbox child: %v\n", err)
				return exitIO
			}
		}
		return rc
	}
	result := os.NewFile(resultFD, "result")
	if result == nil {
		return exitIO
	}
	defer result.Close()
	return runChild(reg, os.Stdin, result)
}

// runChild trains and writes the score followed by the code. Nothing is
// written when training fails.
func runChild(reg *strategy.Registry, in io.Reader, out io.Writer) int {
	r := wire.NewReader(in)
	name := r.ReadString()
	d, err := wire.ReadDataset(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox child: read request: %v\n", err)
		return exitBadRequest
	}
	s, ok := reg.Get(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "sandbox child: unknown strategy %q\n", name)
		return exitUnknownStrategy
	}
	code, err := s.Train(context.Background(), d)
	if err != nil || code == nil {
		fmt.Fprintf(os.Stderr, "sandbox child: %s: training failed: %v\n", name, err)
		return exitTrainFailed
	}
	score := code.Score(d)

	w := wire.NewWriter(out)
	w.WriteVarint(score)
	wire.WriteCode(w, code)
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox child: write result: %v\n", err)
		return exitIO
	}
	return exitOK
}
