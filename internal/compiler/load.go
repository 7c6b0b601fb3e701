package compiler

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cuejson "cuelang.org/go/encoding/json"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docrules/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Extensions lists the rule-set file extensions LoadDir picks up.
var Extensions = []string{".json", ".yaml", ".yml", ".cue"}

// File is one loaded rule-set file.
type File struct {
	Path string

	// ID is the file name without its extension. It becomes the document
	// id on import.
	ID string

	RuleSet ir.RuleSet

	// JSON is the rule set as a JSON object in the key order of the file.
	JSON []byte
}

// CompileError is a load or schema error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads a .json, .yaml/.yml or .cue rule set, checks it against
// the rule-set schema and decodes it.
func LoadFile(path string) (File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}

	ctx := cuecontext.New()
	var raw []byte
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		raw = src
	case ".yaml", ".yml":
		if raw, err = yamlToJSON(src); err != nil {
			return File{}, &CompileError{Field: "yaml", Message: fmt.Sprintf("%s: %v", path, err)}
		}
	case ".cue":
		v := ctx.CompileBytes(src, cue.Filename(path))
		if err := v.Err(); err != nil {
			return File{}, formatCUEError(err)
		}
		if raw, err = v.MarshalJSON(); err != nil {
			return File{}, formatCUEError(err)
		}
	default:
		return File{}, fmt.Errorf("%s: unsupported rule-set file type %q", path, ext)
	}

	if err := checkSchema(ctx, path, raw); err != nil {
		return File{}, err
	}

	var rs ir.RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return File{}, &CompileError{Field: "json", Message: fmt.Sprintf("%s: %v", path, err)}
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rs.ID = id
	return File{Path: path, ID: id, RuleSet: rs, JSON: raw}, nil
}

// LoadDir loads every rule-set file under dir in path order. It keeps going
// after a failing file and returns every error.
func LoadDir(dir string) ([]File, []error) {
	paths, err := FindFiles(dir)
	if err != nil {
		return nil, []error{err}
	}
	if len(paths) == 0 {
		return nil, []error{fmt.Errorf("no rule-set files found in %s", dir)}
	}

	var (
		files []File
		errs  []error
	)
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, f)
	}
	return files, errs
}

// FindFiles walks dir and returns the rule-set files, sorted.
func FindFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range Extensions {
			if ext == e {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// checkSchema unifies raw with #RuleSet. Missing required fields and
// unknown fields are errors.
func checkSchema(ctx *cue.Context, path string, raw []byte) error {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#RuleSet"))
	if err := schema.Err(); err != nil {
		return formatCUEError(err)
	}

	expr, err := cuejson.Extract(path, raw)
	if err != nil {
		return formatCUEError(err)
	}
	data := ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return formatCUEError(err)
	}

	if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError keeps the first CUE error with its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}

// yamlToJSON converts a YAML document to JSON, keeping mapping key order.
func yamlToJSON(src []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeYAMLNode(&buf, &doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeYAMLNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeYAMLNode(buf, n.Content[0])

	case yaml.AliasNode:
		return writeYAMLNode(buf, n.Alias)

	case yaml.MappingNode:
		keys, values := mappingPairs(n)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeYAMLNode(buf, values[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeYAMLNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(out)
		return nil
	}
	return fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

// mappingPairs flattens a mapping node, expanding "<<" merge keys. Keys
// written in the mapping itself win over merged ones.
func mappingPairs(n *yaml.Node) ([]string, map[string]*yaml.Node) {
	var keys []string
	values := make(map[string]*yaml.Node)
	set := func(k string, v *yaml.Node, override bool) {
		if _, ok := values[k]; !ok {
			keys = append(keys, k)
		} else if !override {
			return
		}
		values[k] = v
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.ShortTag() != "!!merge" {
			set(key.Value, val, true)
			continue
		}
		for _, src := range mergeSources(val) {
			mk, mv := mappingPairs(src)
			for _, k := range mk {
				set(k, mv[k], false)
			}
		}
	}
	return keys, values
}

func mergeSources(n *yaml.Node) []*yaml.Node {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	switch n.Kind {
	case yaml.MappingNode:
		return []*yaml.Node{n}
	case yaml.SequenceNode:
		var out []*yaml.Node
		for _, item := range n.Content {
			out = append(out, mergeSources(item)...)
		}
		return out
	}
	return nil
}
