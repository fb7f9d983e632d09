package api

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"

	"taskr/domain"
)

// Inbound frames larger than this are rejected before decoding.
const maxFrameSize = 1 << 20

// decodeIntent parses one inbound wire frame.
func decodeIntent(data []byte) (domain.Intent, error) {
	var in domain.Intent
	if len(data) > maxFrameSize {
		return in, fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, fmt.Errorf("invalid intent frame: %w", err)
	}
	if in.Type == "" {
		return in, fmt.Errorf("intent frame without a Type")
	}
	return in, nil
}

// encodeEvent serializes one outbound wire frame.
func encodeEvent(ev domain.Event) ([]byte, error) {
	return sonic.ConfigStd.Marshal(ev)
}
