package kms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ScopeKind discriminates the variants of `Scope`.
type ScopeKind string

const (
	// KindSchema is the kind of `SchemaScope`.
	KindSchema ScopeKind = "schema"
	// KindEndpoint is the kind of `EndpointScope`.
	KindEndpoint ScopeKind = "endpoint"
)

// Access is the access level granted on a schema.
type Access int

const (
	// AccessRead grants reading documents of a schema.
	AccessRead Access = iota
	// AccessWrite grants reading and writing documents of a schema.
	AccessWrite
)

var accessToStringMap = map[Access]string{
	AccessRead:  "read",
	AccessWrite: "write",
}

var accessFromStringMap = map[string]Access{
	"read":  AccessRead,
	"write": AccessWrite,
}

func (a Access) String() string {
	str, ok := accessToStringMap[a]
	if ok {
		return str
	}

	return fmt.Sprintf("%d", int(a))
}

// NewAccessFromString parses an access level name.
func NewAccessFromString(enumString string) (ret Access, err error) {
	ret, ok := accessFromStringMap[enumString]
	if !ok {
		err = fmt.Errorf("不正确的访问级别 '%v'", enumString)
		return
	}

	return
}

// MarshalJSON marshals the enum as a quoted JSON string
func (a Access) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON unmarshals a quoted JSON string to the enum value
func (a *Access) UnmarshalJSON(b []byte) error {
	var jsonStr string
	err := json.Unmarshal(b, &jsonStr)
	if err != nil {
		return err
	}

	enum, err := NewAccessFromString(jsonStr)
	if err != nil {
		return err
	}

	*a = enum
	return nil
}

// Scope is an access scope carried by an API key. It is a closed sum type: the only implementations are
// `SchemaScope` and `EndpointScope`.
type Scope interface {
	Kind() ScopeKind
	isScope()
}

// SchemaScope grants access to the documents of one schema, optionally narrowed by a filter.
type SchemaScope struct {
	SchemaURI string
	Access    Access
	Filter    map[string]interface{}
}

// EndpointScope grants access to one proxy endpoint.
type EndpointScope struct {
	Endpoint string
}

func (SchemaScope) Kind() ScopeKind { return KindSchema }

func (SchemaScope) isScope() {}

func (EndpointScope) Kind() ScopeKind { return KindEndpoint }

func (EndpointScope) isScope() {}

// scopeWire is the flat representation of a scope used by every serializer.
type scopeWire struct {
	Kind      string                  `json:"kind" mapstructure:"kind"`
	SchemaURI string                  `json:"schemaUri,omitempty" mapstructure:"schemaUri"`
	Access    string                  `json:"access,omitempty" mapstructure:"access"`
	Filter    *map[string]interface{} `json:"filter,omitempty" mapstructure:"filter"` // nil 表示未指定；空 map 会被原样保留
	Endpoint  string                  `json:"endpoint,omitempty" mapstructure:"endpoint"`
}

func scopeToWire(scope Scope) (scopeWire, error) {
	switch s := scope.(type) {
	case SchemaScope:
		if err := validateSchemaScope(s); err != nil {
			return scopeWire{}, err
		}
		w := scopeWire{Kind: string(KindSchema), SchemaURI: s.SchemaURI, Access: s.Access.String()}
		if s.Filter != nil {
			filter := s.Filter
			w.Filter = &filter
		}
		return w, nil
	case EndpointScope:
		if strings.TrimSpace(s.Endpoint) == "" {
			return scopeWire{}, fmt.Errorf("endpoint 类型的 scope 必须指定 endpoint")
		}
		return scopeWire{Kind: string(KindEndpoint), Endpoint: s.Endpoint}, nil
	case nil:
		return scopeWire{}, fmt.Errorf("scope 不能为 nil")
	default:
		return scopeWire{}, fmt.Errorf("未知的 scope 类型 %T", scope)
	}
}

func scopeFromWire(w scopeWire) (Scope, error) {
	switch ScopeKind(w.Kind) {
	case KindSchema:
		if w.Endpoint != "" {
			return nil, fmt.Errorf("schema 类型的 scope 不能包含 endpoint")
		}
		access, err := NewAccessFromString(w.Access)
		if err != nil {
			return nil, err
		}
		s := SchemaScope{SchemaURI: w.SchemaURI, Access: access}
		if w.Filter != nil {
			s.Filter = *w.Filter
			if s.Filter == nil {
				s.Filter = map[string]interface{}{}
			}
		}
		if err := validateSchemaScope(s); err != nil {
			return nil, err
		}
		return s, nil
	case KindEndpoint:
		if w.SchemaURI != "" || w.Access != "" || w.Filter != nil {
			return nil, fmt.Errorf("endpoint 类型的 scope 只能包含 endpoint")
		}
		if strings.TrimSpace(w.Endpoint) == "" {
			return nil, fmt.Errorf("endpoint 类型的 scope 必须指定 endpoint")
		}
		return EndpointScope{Endpoint: w.Endpoint}, nil
	default:
		return nil, fmt.Errorf("未知的 scope 类型 '%v'", w.Kind)
	}
}

func validateSchemaScope(s SchemaScope) error {
	if strings.TrimSpace(s.SchemaURI) == "" {
		return fmt.Errorf("schema 类型的 scope 必须指定 schemaUri")
	}
	if _, ok := accessToStringMap[s.Access]; !ok {
		return fmt.Errorf("不正确的访问级别 %d", int(s.Access))
	}

	return nil
}

func scopesToWire(scopes []Scope) ([]scopeWire, error) {
	ret := make([]scopeWire, len(scopes))
	for i, scope := range scopes {
		w, err := scopeToWire(scope)
		if err != nil {
			return nil, errors.Wrapf(err, "scopes[%v]", i)
		}
		ret[i] = w
	}

	return ret, nil
}

func scopesFromWire(wires []scopeWire) ([]Scope, error) {
	ret := make([]Scope, len(wires))
	for i, w := range wires {
		scope, err := scopeFromWire(w)
		if err != nil {
			return nil, errors.Wrapf(err, "scopes[%v]", i)
		}
		ret[i] = scope
	}

	return ret, nil
}

// ScopesFromMaps decodes loosely typed scope objects (as they arrive in request bodies) into scopes.
// Unknown fields are rejected.
func ScopesFromMaps(maps []map[string]interface{}) ([]Scope, error) {
	wires := make([]scopeWire, len(maps))
	for i, m := range maps {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			ErrorUnused: true,
			Result:      &wires[i],
		})
		if err != nil {
			return nil, errors.Wrap(err, "无法创建 scope 解码器")
		}

		if err := decoder.Decode(m); err != nil {
			return nil, errors.Wrapf(err, "scopes[%v]", i)
		}
	}

	return scopesFromWire(wires)
}

// ScopeList is a list of scopes that marshals to and from the tagged JSON representation
//   {"kind": "schema", "schemaUri": "...", "access": "read"|"write", "filter": {...}}
//   {"kind": "endpoint", "endpoint": "..."}
type ScopeList []Scope

// MarshalJSON marshals the scopes in their tagged representation.
func (l ScopeList) MarshalJSON() ([]byte, error) {
	wires, err := scopesToWire(l)
	if err != nil {
		return nil, err
	}

	return json.Marshal(wires)
}

// UnmarshalJSON unmarshals tagged scope objects.
func (l *ScopeList) UnmarshalJSON(b []byte) error {
	var maps []map[string]interface{}
	if err := json.Unmarshal(b, &maps); err != nil {
		return err
	}

	scopes, err := ScopesFromMaps(maps)
	if err != nil {
		return err
	}

	*l = scopes
	return nil
}
