package event

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Flatten walks a JSON document and returns the dotted paths of all its
// leaf fields, in document key order. Nested objects are descended into;
// arrays and scalars (including null) are leaves. Keys starting with the
// reserved metadata prefix are skipped at every level, subtrees included,
// so no returned path begins with the prefix.
//
// A document whose root is not an object flattens to no paths: there is
// nothing addressable by name in it.
func Flatten(doc []byte) []string {
	if !gjson.ValidBytes(doc) {
		return nil
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return nil
	}
	var paths []string
	flattenObject(root, "", &paths)
	return paths
}

func flattenObject(obj gjson.Result, prefix string, out *[]string) {
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if strings.HasPrefix(name, ReservedMetadataPrefix) {
			return true
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if value.IsObject() {
			flattenObject(value, path, out)
			return true
		}
		*out = append(*out, path)
		return true
	})
}

// Lookup resolves a field path inside a JSON document. A flat key that
// literally contains dots takes precedence over the nested interpretation
// of the same path, matching how the ingestion runtime reads fields.
func Lookup(doc []byte, path string) gjson.Result {
	if strings.Contains(path, ".") {
		// gjson path syntax: escape the dots to address the flat key.
		flat := gjson.GetBytes(doc, strings.ReplaceAll(path, ".", `\.`))
		if flat.Exists() {
			return flat
		}
	}
	return gjson.GetBytes(doc, path)
}
