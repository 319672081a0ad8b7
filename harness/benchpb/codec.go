package benchpb

import "fmt"

// CodecName identifies the control-plane encoding towards gRPC.
const CodecName = "distbenchpb"

// Codec binds the hand-maintained wire types to gRPC. Both sides force it:
// the server via grpc.ForceServerCodec, the stubs via grpc.ForceCodec.
type Codec struct{}

func (Codec) Name() string {
	return CodecName
}

func (Codec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("cannot marshal %T: not a control-plane message", v)
	}
	return msg.MarshalPB()
}

func (Codec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(Message)
	if !ok {
		return fmt.Errorf("cannot unmarshal into %T: not a control-plane message", v)
	}
	return msg.UnmarshalPB(data)
}
