package graph

import (
	"regexp"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/attr"
)

// linkExprRegex matches link expressions of the form {NodeName.attr} or
// {NodeName.group.sub}.
var linkExprRegex = regexp.MustCompile(`^\{([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z0-9_.]+)\}$`)

// ParseLinkExpr parses a textual link expression into a reference. The
// second return value reports whether the string is a link expression at
// all; malformed strings are treated as plain literals by callers.
func ParseLinkExpr(s string) (attr.Ref, bool) {
	m := linkExprRegex.FindStringSubmatch(s)
	if m == nil {
		return attr.Ref{}, false
	}
	return attr.Ref{Node: m[1], Path: m[2]}, true
}

// entryFromRaw classifies one raw template value as a link or a literal.
func entryFromRaw(v cty.Value) attr.Entry {
	if v.Type() == cty.String && !v.IsNull() {
		if ref, ok := ParseLinkExpr(v.AsString()); ok {
			return attr.Entry{Link: &ref}
		}
	}
	return attr.Entry{Value: v}
}
