package codec

import (
	"encoding/json"

	"github.com/harmonyhub/harmony/hub/common"
)

// NewJSONCodec creates a new codec using JSON encoding. Slower and larger
// on the wire than the binary codec, but human readable and convenient for
// browser clients and debugging.
func NewJSONCodec() ICodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements ICodec using the standard library JSON encoder
type jsonCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *jsonCodecImpl) Encode(msg *common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *jsonCodecImpl) Decode(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		*msg = common.Message{}
		return common.NewError(common.RetCMalformedMessage, "invalid json message: %v", err)
	}
	if msg.MsgType == common.MsgTUnknown || msg.MsgType > common.MsgTError {
		mt := msg.MsgType
		*msg = common.Message{}
		return common.NewError(common.RetCMalformedMessage, "unknown message type %d", mt)
	}
	return nil
}
