package contract

import (
	"context"
	"fmt"
	"strings"

	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// compileProto compiles a single-file definition and returns its first message.
func compileProto(ctx context.Context, key Key, definition []byte) (protoreflect.MessageDescriptor, error) {
	fileName := fmt.Sprintf("%s_v%d.proto", strings.ReplaceAll(key.EventType, ".", "_"), key.Version)

	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&singleFileResolver{
			fileName: fileName,
			content:  string(definition),
		}),
		SourceInfoMode: protocompile.SourceInfoNone,
	}

	files, err := compiler.Compile(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("compile proto contract %s: %w", key, err)
	}
	if len(files) == 0 || files[0].Messages().Len() == 0 {
		return nil, fmt.Errorf("proto contract %s defines no message", key)
	}
	return files[0].Messages().Get(0), nil
}

type singleFileResolver struct {
	fileName string
	content  string
}

func (r *singleFileResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if path == r.fileName {
		return protocompile.SearchResult{Source: strings.NewReader(r.content)}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
}

// validateMessage checks a JSON-shaped payload against md. Field names may
// be given as JSON names or proto names.
func validateMessage(md protoreflect.MessageDescriptor, data map[string]interface{}, strict bool, prefix string, v *violations) {
	fields := md.Fields()
	known := make(map[string]protoreflect.FieldDescriptor, fields.Len()*2)
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		known[fd.JSONName()] = fd
		known[string(fd.Name())] = fd
	}

	for key, value := range data {
		path := prefix + key
		fd, ok := known[key]
		if !ok {
			if strict {
				v.add(path, "unknown field")
			}
			continue
		}
		if value == nil {
			continue
		}
		switch {
		case fd.IsList():
			arr, ok := value.([]interface{})
			if !ok {
				v.typeMismatch(path, "array", value)
				continue
			}
			for i, elem := range arr {
				validateProtoValue(fd, elem, strict, fmt.Sprintf("%s[%d]", path, i), v)
			}
		case fd.IsMap():
			m, ok := value.(map[string]interface{})
			if !ok {
				v.typeMismatch(path, "object", value)
				continue
			}
			for k, elem := range m {
				validateProtoValue(fd.MapValue(), elem, strict, fmt.Sprintf("%s[%q]", path, k), v)
			}
		default:
			validateProtoValue(fd, value, strict, path, v)
		}
	}
}

func validateProtoValue(fd protoreflect.FieldDescriptor, value interface{}, strict bool, path string, v *violations) {
	if value == nil {
		return
	}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		if _, ok := value.(bool); !ok {
			v.typeMismatch(path, "bool", value)
		}

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, ok := toFloat(value)
		if !ok {
			v.typeMismatch(path, "integer", value)
			return
		}
		if n != float64(int64(n)) {
			v.add(path, "%v is not an integer", n)
			return
		}
		if isUnsigned(fd.Kind()) && n < 0 {
			v.add(path, "%v is negative", n)
		}

	case protoreflect.FloatKind, protoreflect.DoubleKind:
		if _, ok := toFloat(value); !ok {
			v.typeMismatch(path, "number", value)
		}

	case protoreflect.StringKind, protoreflect.BytesKind:
		if _, ok := value.(string); !ok {
			v.typeMismatch(path, "string", value)
		}

	case protoreflect.EnumKind:
		switch x := value.(type) {
		case string:
			if fd.Enum().Values().ByName(protoreflect.Name(x)) == nil {
				v.add(path, "unknown enum value %q", x)
			}
		default:
			n, ok := toFloat(value)
			if !ok {
				v.typeMismatch(path, "enum", value)
				return
			}
			if fd.Enum().Values().ByNumber(protoreflect.EnumNumber(n)) == nil {
				v.add(path, "unknown enum number %v", n)
			}
		}

	case protoreflect.MessageKind, protoreflect.GroupKind:
		m, ok := value.(map[string]interface{})
		if !ok {
			v.typeMismatch(path, "object", value)
			return
		}
		validateMessage(fd.Message(), m, strict, path+".", v)
	}
}

func isUnsigned(k protoreflect.Kind) bool {
	switch k {
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind, protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return true
	}
	return false
}
