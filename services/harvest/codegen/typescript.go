// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var tsReserved = map[string]bool{
	"await": true, "break": true, "case": true, "catch": true, "class": true,
	"const": true, "continue": true, "default": true, "delete": true,
	"do": true, "else": true, "enum": true, "export": true, "extends": true,
	"false": true, "finally": true, "for": true, "function": true, "if": true,
	"import": true, "in": true, "instanceof": true, "new": true, "null": true,
	"return": true, "super": true, "switch": true, "this": true, "throw": true,
	"true": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "static": true,
}

var identTail = regexp.MustCompile(`[^A-Za-z0-9]+`)

// camelIdent turns an arbitrary name into a lowerCamel TypeScript
// identifier.
func camelIdent(name string) string {
	parts := identTail.Split(name, -1)
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString(strings.ToLower(p[:1]) + p[1:])
		} else {
			sb.WriteString(strings.ToUpper(p[:1]) + p[1:])
		}
	}
	id := sb.String()
	if id == "" {
		id = "value"
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "v" + id
	}
	if tsReserved[id] {
		id += "Value"
	}
	return id
}

// pascalIdent is camelIdent with an upper first letter, for type names.
func pascalIdent(name string) string {
	id := camelIdent(name)
	return strings.ToUpper(id[:1]) + id[1:]
}

// templateEscape makes a string safe inside a backtick template literal.
func templateEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "`", "\\`")
	s = strings.ReplaceAll(s, "${", "\\${")
	return s
}

// quoteString renders a double-quoted TypeScript string literal.
func quoteString(s string) string {
	return strconv.Quote(s)
}

// tsTypeOf renders the TypeScript type of a decoded JSON value.
func tsTypeOf(v any, indent string) string {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			return "Record<string, unknown>"
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("{\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s  %s: %s;\n", indent, propertyKey(k), tsTypeOf(val[k], indent+"  "))
		}
		sb.WriteString(indent + "}")
		return sb.String()
	case []any:
		if len(val) == 0 {
			return "unknown[]"
		}
		elem := tsTypeOf(val[0], indent)
		if strings.ContainsAny(elem, "{|") {
			return "Array<" + elem + ">"
		}
		return elem + "[]"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "unknown"
	}
}

var plainProperty = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func propertyKey(k string) string {
	if plainProperty.MatchString(k) {
		return k
	}
	return quoteString(k)
}

// renderTypeDecl emits one top-level type for a JSON document.
func renderTypeDecl(name string, v any) string {
	if m, ok := v.(map[string]any); ok && len(m) > 0 {
		body := tsTypeOf(m, "")
		return "export interface " + name + " " + body + "\n"
	}
	return "export type " + name + " = " + tsTypeOf(v, "") + ";\n"
}

// jsonPathTo finds the dotted path of the first leaf equal to value,
// depth-first with object keys visited in sorted order.
func jsonPathTo(doc any, value string) (string, bool) {
	var walk func(v any, path string) (string, bool)
	walk = func(v any, path string) (string, bool) {
		switch val := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(val))
			for k := range val {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				p := k
				if path != "" {
					p = path + "." + k
				}
				if found, ok := walk(val[k], p); ok {
					return found, true
				}
			}
		case []any:
			for i, item := range val {
				if found, ok := walk(item, fmt.Sprintf("%s[%d]", path, i)); ok {
					return found, true
				}
			}
		case string:
			if val == value {
				return path, true
			}
		case float64:
			if strconv.FormatFloat(val, 'f', -1, 64) == value {
				return path, true
			}
		}
		return "", false
	}
	return walk(doc, "")
}

// pathExpr turns a dotted path into a body access expression, bracketing
// keys that are not plain identifiers.
func pathExpr(path string) string {
	var sb strings.Builder
	sb.WriteString("body")
	for _, seg := range strings.Split(path, ".") {
		// Split off any [i] suffixes.
		key := seg
		var indexes string
		if i := strings.Index(seg, "["); i >= 0 {
			key, indexes = seg[:i], seg[i:]
		}
		if key != "" {
			if plainProperty.MatchString(key) {
				sb.WriteString("." + key)
			} else {
				sb.WriteString("[" + quoteString(key) + "]")
			}
		}
		sb.WriteString(indexes)
	}
	return sb.String()
}

const regexCaptureClass = `([A-Za-z0-9_\-\.=/+]+)`

// anchoredCapture builds a regex that re-extracts value from a textual
// body using up to 16 characters of leading context.
func anchoredCapture(body, value string) (string, bool) {
	idx := strings.Index(body, value)
	if idx < 0 {
		return "", false
	}
	start := idx - 16
	if start < 0 {
		start = 0
	}
	return regexp.QuoteMeta(body[start:idx]) + regexCaptureClass, true
}

// jsRegexEscaper rewrites characters that cannot appear raw inside a
// JavaScript regex literal. Line terminators would split the literal
// across source lines; the escaped forms match the same characters.
var jsRegexEscaper = strings.NewReplacer(
	"/", `\/`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

// jsRegexLiteral renders a pattern as a /.../ literal.
func jsRegexLiteral(pattern string) string {
	return "/" + jsRegexEscaper.Replace(pattern) + "/"
}
