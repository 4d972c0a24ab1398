package tuple

import (
	"encoding/json"

	"github.com/c360/streamexec/errors"
)

// Serializer turns tuples into opaque bytes for the remote transport and
// back. The wire format is a transport concern; the executor core treats the
// output as opaque.
type Serializer interface {
	Serialize(t Tuple) ([]byte, error)
	Deserialize(data []byte) (Tuple, error)
}

// JSONSerializer encodes tuples as JSON. It is the default serializer; wire
// compatibility across versions is limited to what encoding/json guarantees.
type JSONSerializer struct{}

// NewJSONSerializer creates a JSON tuple serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Serialize encodes the tuple as JSON bytes.
func (s *JSONSerializer) Serialize(t Tuple) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSONSerializer", "Serialize", "tuple encoding")
	}
	return data, nil
}

// Deserialize decodes JSON bytes back into a tuple.
func (s *JSONSerializer) Deserialize(data []byte) (Tuple, error) {
	var t Tuple
	if err := json.Unmarshal(data, &t); err != nil {
		return Tuple{}, errors.WrapInvalid(err, "JSONSerializer", "Deserialize", "tuple decoding")
	}
	return t, nil
}
