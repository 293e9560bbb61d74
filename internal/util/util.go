package util

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/ssuji15/trainpool/model"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LoadSeccomp reads an OCI seccomp profile. Profiles without a default
// action are rejected.
func LoadSeccomp(path string) (*specs.LinuxSeccomp, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var seccomp specs.LinuxSeccomp
	if err := json.Unmarshal(b, &seccomp); err != nil {
		return nil, err
	}
	if seccomp.DefaultAction == "" {
		return nil, fmt.Errorf("seccomp profile %s has no defaultAction", path)
	}
	return &seccomp, nil
}

func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func GetDatasetKey(h model.Hash) string {
	return fmt.Sprintf("dataset:%s", h)
}

func GetDatasetPath(h model.Hash) string {
	return fmt.Sprintf("datasets/%s.msgpack", h)
}

// GetDatasetObjectName is the key used in object stores that reject ':'.
func GetDatasetObjectName(h model.Hash) string {
	return fmt.Sprintf("dataset_%s", h)
}
