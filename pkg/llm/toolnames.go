package llm

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// maxWireToolName is the longest function name the API accepts.
const maxWireToolName = 64

// toolNames maps qualified tool names to function names the Chat
// Completions API accepts ([a-zA-Z0-9_-], at most 64 characters) and back.
//
// Names whose plain form would clash get a hash suffix derived from the
// qualified name, so the mapping does not depend on tool order.
type toolNames struct {
	toWire      map[string]string
	toQualified map[string]string
}

func newToolNames(tools []ToolDefinition) (*toolNames, error) {
	groups := make(map[string][]string)
	seen := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if seen[tool.Name] {
			continue
		}
		seen[tool.Name] = true
		base := plainWireName(tool.Name)
		groups[base] = append(groups[base], tool.Name)
	}

	n := &toolNames{
		toWire:      make(map[string]string, len(seen)),
		toQualified: make(map[string]string, len(seen)),
	}
	for base, qualified := range groups {
		for _, name := range qualified {
			wire := base
			if len(qualified) > 1 {
				wire = hashedWireName(base, name)
			}
			if other, ok := n.toQualified[wire]; ok {
				return nil, fmt.Errorf("tools %q and %q map to the same function name %q", other, name, wire)
			}
			n.toWire[name] = wire
			n.toQualified[wire] = name
		}
	}
	return n, nil
}

// wire returns the function name for a qualified name. Names outside the
// mapping, such as calls to tools of a backend that has since gone away,
// get the plain form.
func (n *toolNames) wire(qualified string) string {
	if n != nil {
		if wire, ok := n.toWire[qualified]; ok {
			return wire
		}
	}
	return plainWireName(qualified)
}

// qualified reverses wire. Unknown names are returned unchanged so the
// registry can report them.
func (n *toolNames) qualified(wire string) string {
	if n != nil {
		if name, ok := n.toQualified[wire]; ok {
			return name
		}
	}
	return wire
}

// plainWireName replaces the qualified-name separator with wireSeparator
// and every other character the API rejects with an underscore.
func plainWireName(name string) string {
	var b strings.Builder
	for _, r := range strings.ReplaceAll(name, ":", wireSeparator) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	wire := b.String()
	if len(wire) > maxWireToolName {
		wire = wire[:maxWireToolName]
	}
	return wire
}

func hashedWireName(base, qualified string) string {
	h := fnv.New32a()
	h.Write([]byte(qualified))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	if len(base) > maxWireToolName-len(suffix) {
		base = base[:maxWireToolName-len(suffix)]
	}
	return base + suffix
}
