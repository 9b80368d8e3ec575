// Package codec decodes mission documents into mission.Tree values.
//
// A document holds a root node and, optionally, shared nodes that are only
// reached through node_reference:
//
//	name: inspect
//	root:
//	  name: main
//	  impl:
//	    Sequence:
//	      children:
//	        - node_reference: power-on
//	        - impl: {BosdynNavigateTo: {destination_waypoint_id: w-valve}}
//	shared:
//	  - name: power on
//	    reference_id: power-on
//	    impl: {BosdynPowerRequest: {request: REQUEST_ON}}
//
// The impl of a node is a single-key map from the node kind to its fields.
// Fields use the wire names of the mission impl types; durations are given in
// seconds or as Go duration strings.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/mission/pkg/mission"
	"github.com/randalmurphal/mission/pkg/mission/bind"
	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// ErrUnknownKind indicates an impl key that names no node kind.
var ErrUnknownKind = errors.New("unknown node kind")

// FromFile decodes a document, picking the format from the extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (mission.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mission.Tree{}, fmt.Errorf("read mission file: %w", err)
	}

	var tree mission.Tree
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		tree, err = FromYAML(data)
	case ".json":
		tree, err = FromJSON(data)
	default:
		return mission.Tree{}, fmt.Errorf("unsupported mission file extension: %s", ext)
	}
	if err != nil {
		return mission.Tree{}, err
	}
	if tree.Name == "" {
		tree.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tree, nil
}

// FromYAML decodes a YAML document.
func FromYAML(data []byte) (mission.Tree, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return mission.Tree{}, fmt.Errorf("parse yaml: %w", err)
	}
	return FromMap(m)
}

// FromJSON decodes a JSON document.
func FromJSON(data []byte) (mission.Tree, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return mission.Tree{}, fmt.Errorf("parse json: %w", err)
	}
	return FromMap(m)
}

type document struct {
	Name   string `mapstructure:"name"`
	Root   any    `mapstructure:"root"`
	Shared []any  `mapstructure:"shared"`
}

type nodeDocument struct {
	Name            string                     `mapstructure:"name"`
	UserData        map[string]any             `mapstructure:"user_data"`
	ReferenceID     string                     `mapstructure:"reference_id"`
	NodeReference   string                     `mapstructure:"node_reference"`
	Impl            map[string]any             `mapstructure:"impl"`
	ParameterValues []expr.KeyValue            `mapstructure:"parameter_values"`
	Overrides       []expr.KeyValue            `mapstructure:"overrides"`
	Parameters      []expr.VariableDeclaration `mapstructure:"parameters"`
}

// FromMap decodes an already parsed document.
func FromMap(m map[string]any) (mission.Tree, error) {
	if m == nil {
		return mission.Tree{}, fmt.Errorf("%w: empty document", mission.ErrInvalidNode)
	}

	var doc document
	d := &decoder{}
	if err := d.decode(m, &doc); err != nil {
		return mission.Tree{}, err
	}
	if doc.Root == nil {
		return mission.Tree{}, fmt.Errorf("%w: document has no root", mission.ErrInvalidNode)
	}

	root, err := d.node(doc.Root, "root")
	if err != nil {
		return mission.Tree{}, err
	}
	tree := mission.Tree{Name: doc.Name, Root: root}
	for i, raw := range doc.Shared {
		n, err := d.node(raw, fmt.Sprintf("shared[%d]", i))
		if err != nil {
			return mission.Tree{}, err
		}
		tree.Shared = append(tree.Shared, n)
	}
	return tree, nil
}

var nodeType = reflect.TypeOf(mission.Node{})

// decoder keeps the first error raised inside a hook. mapstructure flattens
// hook errors into strings, so the original is returned instead.
type decoder struct {
	err error
}

func (d *decoder) decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.ComposeDecodeHookFunc(d.nodeHook(), bind.DecodeHook()),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		if d.err != nil {
			return d.err
		}
		return err
	}
	return nil
}

// nodeHook decodes child nodes inside impl fields.
func (d *decoder) nodeHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != nodeType {
			return data, nil
		}
		if _, ok := data.(map[string]any); !ok {
			return data, nil
		}
		n, err := d.node(data, "")
		if err != nil {
			if d.err == nil {
				d.err = err
			}
			return nil, err
		}
		return *n, nil
	}
}

func (d *decoder) node(raw any, path string) (*mission.Node, error) {
	var nd nodeDocument
	if err := d.decode(raw, &nd); err != nil {
		return nil, wrapPath(path, err)
	}

	n := &mission.Node{
		Name:            nd.Name,
		UserData:        nd.UserData,
		ReferenceID:     nd.ReferenceID,
		NodeReference:   nd.NodeReference,
		ParameterValues: nd.ParameterValues,
		Overrides:       nd.Overrides,
		Parameters:      nd.Parameters,
	}
	if path == "" {
		path = n.Name
	}

	switch len(nd.Impl) {
	case 0:
		return n, nil
	case 1:
	default:
		return nil, wrapPath(path, fmt.Errorf("%w: impl has %d kinds (%s)",
			mission.ErrInvalidNode, len(nd.Impl), strings.Join(sortedKeys(nd.Impl), ", ")))
	}

	for key, body := range nd.Impl {
		impl := mission.NewImpl(mission.Kind(key))
		if impl == nil {
			return nil, wrapPath(path, fmt.Errorf("%w: %q", ErrUnknownKind, key))
		}
		if body != nil {
			if err := d.decode(body, impl); err != nil {
				return nil, wrapPath(path, fmt.Errorf("%s: %w", key, err))
			}
		}
		n.Impl = impl
	}
	return n, nil
}

func wrapPath(path string, err error) error {
	if path == "" {
		return err
	}
	return fmt.Errorf("%s: %w", path, err)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
