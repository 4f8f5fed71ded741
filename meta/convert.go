package meta

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Built-in type names.
const (
	TypeString  = "string"
	TypeText    = "text"
	TypeInt     = "int"
	TypeFloat   = "float"
	TypeBool    = "bool"
	TypeTime    = "time"
	TypeDate    = "date"
	TypeEmail   = "email"
	TypeURL     = "url"
	TypeULID    = "ulid"
	TypeUUID    = "uuid"
	TypeJSON    = "json"
	TypeStrings = "strings"
	TypeInts    = "ints"
	TypeRef     = "ref"
	TypeRefs    = "refs"
)

const dateLayout = "2006-01-02"

// Converter turns a raw input value into the normalized stored form, or
// returns an error describing why the value is invalid. Converters never
// see nil; absence and explicit null are handled by the caller.
type Converter func(v any) (any, error)

// Type is one named conversion rule. Array marks types whose values are
// lists, which is what distinguishes multi-reference fields.
type Type struct {
	Name    string
	Array   bool
	Convert Converter
}

// Types is the registry of named conversion rules. Custom types must be
// registered before any entity using them; NewBuilder seals the table so
// the ordering is enforced by construction rather than by convention.
type Types struct {
	mu     sync.RWMutex
	byName map[string]Type
	sealed bool
}

// NewTypes returns a registry preloaded with the built-in types.
func NewTypes() *Types {
	t := &Types{byName: make(map[string]Type)}
	for _, bt := range builtinTypes() {
		t.byName[bt.Name] = bt
	}
	return t
}

// Register adds a custom conversion rule. It fails once the table is
// sealed or when the name is already taken.
func (t *Types) Register(typ Type) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return fmt.Errorf("type table is sealed: register %s before building the registry", typ.Name)
	}
	if typ.Name == "" {
		return fmt.Errorf("type name is required")
	}
	if typ.Convert == nil {
		return fmt.Errorf("type %s has no converter", typ.Name)
	}
	if _, exists := t.byName[typ.Name]; exists {
		return fmt.Errorf("type %s is already registered", typ.Name)
	}
	t.byName[typ.Name] = typ
	return nil
}

// Get looks up a type by name.
func (t *Types) Get(name string) (Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	typ, ok := t.byName[name]
	return typ, ok
}

// Convert runs the named type's converter on a raw value.
func (t *Types) Convert(name string, v any) (any, error) {
	typ, ok := t.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown type: %s", name)
	}
	return typ.Convert(v)
}

// seal closes the table for registration. Called by NewBuilder.
func (t *Types) seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

func builtinTypes() []Type {
	return []Type{
		{Name: TypeString, Convert: convertString},
		{Name: TypeText, Convert: convertString},
		{Name: TypeInt, Convert: convertInt},
		{Name: TypeFloat, Convert: convertFloat},
		{Name: TypeBool, Convert: convertBool},
		{Name: TypeTime, Convert: convertTime},
		{Name: TypeDate, Convert: convertDate},
		{Name: TypeEmail, Convert: convertEmail},
		{Name: TypeURL, Convert: convertURL},
		{Name: TypeULID, Convert: convertULID},
		{Name: TypeUUID, Convert: convertUUID},
		{Name: TypeJSON, Convert: convertJSON},
		{Name: TypeStrings, Array: true, Convert: convertStrings},
		{Name: TypeInts, Array: true, Convert: convertInts},
		{Name: TypeRef, Convert: convertRef},
		{Name: TypeRefs, Array: true, Convert: convertRefs},
	}
}

func convertString(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("must be a string")
	}
	return s, nil
}

func convertInt(v any) (any, error) {
	switch tv := v.(type) {
	case int:
		return int64(tv), nil
	case int32:
		return int64(tv), nil
	case int64:
		return tv, nil
	case float64:
		if tv != float64(int64(tv)) {
			return nil, fmt.Errorf("must be an integer")
		}
		return int64(tv), nil
	case float32:
		return convertInt(float64(tv))
	default:
		return nil, fmt.Errorf("must be an integer")
	}
}

func convertFloat(v any) (any, error) {
	switch tv := v.(type) {
	case float64:
		return tv, nil
	case float32:
		return float64(tv), nil
	case int:
		return float64(tv), nil
	case int64:
		return float64(tv), nil
	default:
		return nil, fmt.Errorf("must be a number")
	}
}

func convertBool(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("must be a boolean")
	}
	return b, nil
}

func convertTime(v any) (any, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC().Format(time.RFC3339), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, tv)
		if err != nil {
			return nil, fmt.Errorf("must be an RFC 3339 timestamp")
		}
		return parsed.UTC().Format(time.RFC3339), nil
	default:
		return nil, fmt.Errorf("must be an RFC 3339 timestamp")
	}
}

func convertDate(v any) (any, error) {
	switch tv := v.(type) {
	case time.Time:
		return tv.Format(dateLayout), nil
	case string:
		parsed, err := time.Parse(dateLayout, tv)
		if err != nil {
			return nil, fmt.Errorf("must be a date in YYYY-MM-DD form")
		}
		return parsed.Format(dateLayout), nil
	default:
		return nil, fmt.Errorf("must be a date in YYYY-MM-DD form")
	}
}

func convertEmail(v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("must be an email address")
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return nil, fmt.Errorf("must be a valid email address")
	}
	return s, nil
}

func convertURL(v any) (any, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("must be a URL")
	}
	parsed, err := url.Parse(s)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("must be an absolute URL with scheme and host")
	}
	return s, nil
}

func convertULID(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("must be a ULID string")
	}
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return nil, fmt.Errorf("must be a valid ULID")
	}
	return id.String(), nil
}

func convertUUID(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("must be a UUID string")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("must be a valid UUID")
	}
	return id.String(), nil
}

func convertJSON(v any) (any, error) {
	return v, nil
}

func convertStrings(v any) (any, error) {
	switch tv := v.(type) {
	case []string:
		out := make([]string, len(tv))
		copy(out, tv)
		return out, nil
	case []any:
		out := make([]string, len(tv))
		for i, e := range tv {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d must be a string", i)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a list of strings")
	}
}

func convertInts(v any) (any, error) {
	elems, ok := v.([]any)
	if !ok {
		if typed, isTyped := v.([]int64); isTyped {
			out := make([]int64, len(typed))
			copy(out, typed)
			return out, nil
		}
		return nil, fmt.Errorf("must be a list of integers")
	}
	out := make([]int64, len(elems))
	for i, e := range elems {
		n, err := convertInt(e)
		if err != nil {
			return nil, fmt.Errorf("element %d must be an integer", i)
		}
		out[i] = n.(int64)
	}
	return out, nil
}

func convertRef(v any) (any, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("must be a record id or label")
	}
	return s, nil
}

func convertRefs(v any) (any, error) {
	return convertStrings(v)
}
