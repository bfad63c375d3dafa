package tracev1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of Codec.
const CodecName = "json"

// Codec marshals messages as JSON. It is registered under CodecName, so a
// server picks it for requests with content subtype "json" and keeps proto
// for the health and reflection services. Clients select it with
// grpc.ForceCodec.
type Codec struct{}

func init() { encoding.RegisterCodec(Codec{}) }

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("tracev1: marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("tracev1: unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }
