package chunk

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// Parser wraps tree-sitter. Not safe for concurrent use; the indexer gives
// each worker its own parser.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source and returns a language-neutral tree.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, mnerr.Newf(mnerr.KindParse, "unsupported language %q", language)
	}

	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, mnerr.Wrapf(mnerr.KindParse, err, "parse failed")
	}
	if tsTree == nil {
		return nil, mnerr.New(mnerr.KindParse, "parser produced no tree")
	}

	return &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}
	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}
	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}
	return node
}

// Content returns the source text the node spans.
func (n *Node) Content(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType returns the first direct child of the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindAllByType recursively collects nodes of the given type.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	if n.Type == nodeType {
		result = append(result, n)
	}
	for _, child := range n.Children {
		result = append(result, child.FindAllByType(nodeType)...)
	}
	return result
}

// Walk traverses depth-first; fn returning false prunes the subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
