package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ToolDescriptor is one schema-described remote operation, qualified by its
// owning server. QualifiedName is "<serverID>.<bareName>" and is unique by
// construction across any merged catalog.
type ToolDescriptor struct {
	QualifiedName string          `json:"qualifiedName"`
	BareName      string          `json:"bareName"`
	ServerID      string          `json:"serverId"`
	Description   string          `json:"description,omitempty"`
	InputSchema   json.RawMessage `json:"inputSchema,omitempty"`
}

// QualifyToolName builds the globally unique name for a server's tool.
func QualifyToolName(serverID, bareName string) string {
	return fmt.Sprintf("%s.%s", serverID, bareName)
}

// ToolCatalog is an immutable snapshot of every reachable server's tools.
// It is built wholesale and swapped atomically; readers never observe a
// partially merged state.
type ToolCatalog struct {
	etag      string
	tools     []ToolDescriptor
	qualified map[string]ToolDescriptor
	aliases   map[string]string
	ambiguous map[string][]string
}

// NewToolCatalog builds a catalog from per-server descriptors. A bare-name
// alias is registered only when exactly one server provides that bare name;
// otherwise the bare name resolves to an ambiguity error.
func NewToolCatalog(tools []ToolDescriptor) *ToolCatalog {
	sorted := append([]ToolDescriptor(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].QualifiedName < sorted[j].QualifiedName })

	qualified := make(map[string]ToolDescriptor, len(sorted))
	owners := make(map[string][]string)
	for _, tool := range sorted {
		qualified[tool.QualifiedName] = tool
		owners[tool.BareName] = append(owners[tool.BareName], tool.QualifiedName)
	}

	aliases := make(map[string]string)
	ambiguous := make(map[string][]string)
	for bare, names := range owners {
		if len(names) == 1 {
			aliases[bare] = names[0]
			continue
		}
		sort.Strings(names)
		ambiguous[bare] = names
	}

	return &ToolCatalog{
		etag:      hashDescriptors(sorted),
		tools:     sorted,
		qualified: qualified,
		aliases:   aliases,
		ambiguous: ambiguous,
	}
}

// ETag identifies the catalog content. Two catalogs built from the same
// descriptor set carry the same tag.
func (c *ToolCatalog) ETag() string {
	return c.etag
}

// Len reports the number of qualified entries.
func (c *ToolCatalog) Len() int {
	return len(c.tools)
}

// Tools returns the descriptors in qualified-name order.
func (c *ToolCatalog) Tools() []ToolDescriptor {
	return append([]ToolDescriptor(nil), c.tools...)
}

// Lookup resolves a qualified name, or a bare name when exactly one server
// provides it. Ambiguous bare names are refused, never guessed.
func (c *ToolCatalog) Lookup(name string) (ToolDescriptor, error) {
	if tool, ok := c.qualified[name]; ok {
		return tool, nil
	}
	if qualifiedName, ok := c.aliases[name]; ok {
		return c.qualified[qualifiedName], nil
	}
	if candidates, ok := c.ambiguous[name]; ok {
		return ToolDescriptor{}, E(CodeInvalidArgument, "catalog.lookup",
			fmt.Sprintf("bare name %q is provided by multiple servers, qualify as one of %v", name, candidates),
			ErrAmbiguousTool)
	}
	return ToolDescriptor{}, ErrToolNotFound
}

func hashDescriptors(tools []ToolDescriptor) string {
	hasher := sha256.New()
	for _, tool := range tools {
		_, _ = hasher.Write([]byte(tool.QualifiedName))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write([]byte(tool.Description))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(tool.InputSchema)
		_, _ = hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
