package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Codec encodes the JSON members of a hierarchical container.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// GoJSON is the default attribute codec.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }
func (GoJSON) Name() string                       { return "go-json" }

// StdJSON uses encoding/json. Both codecs read each other's output.
type StdJSON struct{}

func (StdJSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (StdJSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (StdJSON) Name() string                       { return "json" }

// AttrCodec returns an attribute codec by name ("go-json" or "json").
func AttrCodec(name string) (Codec, bool) {
	switch name {
	case GoJSON{}.Name():
		return GoJSON{}, true
	case StdJSON{}.Name():
		return StdJSON{}, true
	}
	return nil, false
}
