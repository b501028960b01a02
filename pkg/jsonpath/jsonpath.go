// Package jsonpath looks up values in JSON documents using a small JSONPath
// subset translated to gjson paths.
package jsonpath

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Path is a compiled JSONPath expression. The zero value matches nothing.
type Path struct {
	raw   string
	gpath string
}

// Compile converts a JSONPath expression such as "$.pods[0].name" into a
// reusable Path.
func Compile(path string) (Path, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Path{}, fmt.Errorf("empty JSONPath expression")
	}
	if !strings.HasPrefix(path, "$") {
		return Path{}, fmt.Errorf("JSONPath must start with '$': %s", path)
	}
	return Path{raw: path, gpath: convertToGjsonPath(path)}, nil
}

// String returns the original expression.
func (p Path) String() string {
	return p.raw
}

// Lookup returns the string form of the value at p in body. ok is false when
// body is not JSON, the path does not exist, or the value is null.
func (p Path) Lookup(body []byte) (value string, ok bool) {
	if p.gpath == "" || len(body) == 0 || !gjson.ValidBytes(body) {
		return "", false
	}

	result := gjson.GetBytes(body, p.gpath)
	if !result.Exists() || result.Type == gjson.Null {
		return "", false
	}
	return result.String(), true
}

// convertToGjsonPath converts a JSONPath expression to a gjson path.
//
//	JSONPath: $.users[0].name
//	gjson:    users.0.name
func convertToGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return "@this"
	}
	path = strings.TrimPrefix(path, ".")

	// Quoted bracket notation: $['name'] and $["name"]
	for _, q := range []string{"'", "\""} {
		path = strings.ReplaceAll(path, "["+q, ".")
		path = strings.ReplaceAll(path, q+"]", "")
	}

	// Index notation: [n] -> .n
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")

	return strings.TrimPrefix(path, ".")
}
