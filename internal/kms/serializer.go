package kms

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Serializer turns an envelope into bytes and back. Implementations must be deterministic for a given value so
// that the same envelope always produces the same encoding.
type Serializer interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Serializer names accepted in the config file.
const (
	SerializerJSON = "json"
	SerializerCBOR = "cbor"
)

// JSONSerializer serializes with `encoding/json`. Struct fields keep their declaration order and map keys are
// sorted, which makes the output canonical for a given value.
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return SerializerJSON }

func (JSONSerializer) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (JSONSerializer) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// CBORSerializer serializes with canonical CBOR (RFC 7049 §3.9), which yields noticeably shorter tokens than JSON.
type CBORSerializer struct {
	em cbor.EncMode
	dm cbor.DecMode
}

// NewCBORSerializer creates a CBOR serializer. Maps nested in `interface{}` values decode as
// `map[string]interface{}` so that filters survive a round trip with the same type.
func NewCBORSerializer() (*CBORSerializer, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, errors.Wrap(err, "无法创建 CBOR 编码器")
	}

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		return nil, errors.Wrap(err, "无法创建 CBOR 解码器")
	}

	return &CBORSerializer{em: em, dm: dm}, nil
}

func (s *CBORSerializer) Name() string { return SerializerCBOR }

func (s *CBORSerializer) Marshal(v interface{}) ([]byte, error) { return s.em.Marshal(v) }

func (s *CBORSerializer) Unmarshal(data []byte, v interface{}) error { return s.dm.Unmarshal(data, v) }

// GetSerializer looks up a serializer by its config name (case insensitive).
func GetSerializer(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SerializerJSON, "":
		return JSONSerializer{}, nil
	case SerializerCBOR:
		return NewCBORSerializer()
	default:
		return nil, fmt.Errorf("未知的序列化格式 '%v'", name)
	}
}
