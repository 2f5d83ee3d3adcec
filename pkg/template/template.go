// Package template evaluates small interpolation templates against a
// parameter bag. Placeholders are restricted to whitelisted path lookups
// (`params.foo`, `response.data[0].field`); there is deliberately no
// expression language, so user-supplied templates can never execute code.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	placeholderRE = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	segmentRE     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\[\d+\])*$`)
)

// Eval substitutes every {{path}} in tpl with the value found at that path
// in bag. String values are JSON-escaped so the result stays a valid JSON
// fragment; objects and arrays are inlined as JSON. An invalid or
// unresolvable path returns an error and the caller decides whether that is
// fatal.
func Eval(tpl string, bag map[string]any) (string, error) {
	doc, err := json.Marshal(bag)
	if err != nil {
		return "", fmt.Errorf("template: encode bag: %w", err)
	}
	var evalErr error
	out := placeholderRE.ReplaceAllStringFunc(tpl, func(match string) string {
		if evalErr != nil {
			return match
		}
		path := strings.TrimSpace(placeholderRE.FindStringSubmatch(match)[1])
		res, ok := ResolvePath(doc, path)
		if !ok {
			evalErr = fmt.Errorf("template: path %q not found", path)
			return match
		}
		return render(res)
	})
	if evalErr != nil {
		return "", evalErr
	}
	return out, nil
}

// ResolvePath walks a JSON document using a dot-and-bracket path such as
// `data[0].b64_json`. It reports false for malformed paths and misses alike.
func ResolvePath(doc []byte, path string) (gjson.Result, bool) {
	gpath, err := toGJSONPath(path)
	if err != nil {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(doc, gpath)
	return res, res.Exists()
}

// toGJSONPath validates each dot segment and rewrites bracket indexes to
// gjson's numeric-segment syntax.
func toGJSONPath(path string) (string, error) {
	segments := strings.Split(strings.TrimSpace(path), ".")
	if len(segments) == 0 {
		return "", fmt.Errorf("template: empty path")
	}
	var out []string
	for _, seg := range segments {
		if !segmentRE.MatchString(seg) {
			return "", fmt.Errorf("template: invalid path segment %q", seg)
		}
		name := seg
		var indexes []string
		if cut := strings.IndexByte(seg, '['); cut >= 0 {
			name = seg[:cut]
			for _, idx := range strings.Split(seg[cut:], "[") {
				idx = strings.TrimSuffix(idx, "]")
				if idx != "" {
					indexes = append(indexes, idx)
				}
			}
		}
		out = append(out, name)
		out = append(out, indexes...)
	}
	return strings.Join(out, "."), nil
}

// render turns a resolved value into its in-template representation.
func render(res gjson.Result) string {
	switch res.Type {
	case gjson.String:
		escaped, err := json.Marshal(res.String())
		if err != nil {
			return res.String()
		}
		// Strip the surrounding quotes; templates supply their own.
		return string(escaped[1 : len(escaped)-1])
	case gjson.Null:
		return "null"
	default:
		return res.Raw
	}
}

// CollapseNewlines returns a copy of bag where every top-level string value
// has embedded newlines replaced by single spaces. Prompt-like values break
// JSON templates otherwise.
func CollapseNewlines(bag map[string]any) map[string]any {
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		if s, ok := v.(string); ok {
			s = strings.ReplaceAll(s, "\r\n", " ")
			s = strings.ReplaceAll(s, "\n", " ")
			out[k] = s
			continue
		}
		out[k] = v
	}
	return out
}
