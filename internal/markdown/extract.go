package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Document is the plain-text rendering of a markdown source.
type Document struct {
	Title   string   // First H1, or first H2 if the document has no H1
	Outline []string // Header paths: "# Doc Title > ## Section Name"
	Text    string   // Prose with markup removed, one block per line
}

// Extractor renders markdown to plain text for embedding.
type Extractor struct {
	parser goldmark.Markdown
}

// NewExtractor creates a new extractor configured with goldmark parser.
func NewExtractor() *Extractor {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Extractor{parser: md}
}

// Extract parses source and returns its title, outline and text.
func (e *Extractor) Extract(source []byte) (*Document, error) {
	doc := e.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	out := &Document{}
	collectOutline(tree.Items, nil, &out.Outline)
	if len(tree.Items) > 0 {
		out.Title = string(tree.Items[0].Title)
	}

	out.Text = renderText(doc, source)
	return out, nil
}

// collectOutline walks TOC items depth-first, recording each header path.
func collectOutline(items toc.Items, ancestors []string, outline *[]string) {
	for _, item := range items {
		current := append(append([]string(nil), ancestors...), string(item.Title))
		*outline = append(*outline, formatHeaderPath(current))
		if len(item.Items) > 0 {
			collectOutline(item.Items, current, outline)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Installation", "Prerequisites"] -> "# Installation > ## Prerequisites"
func formatHeaderPath(path []string) string {
	parts := make([]string, 0, len(path))
	for i, segment := range path {
		parts = append(parts, fmt.Sprintf("%s %s", strings.Repeat("#", i+1), segment))
	}
	return strings.Join(parts, " > ")
}

// renderText concatenates the text of every inline node, breaking lines
// at block boundaries. Code blocks keep their raw lines; HTML is dropped.
func renderText(doc ast.Node, source []byte) string {
	var buf bytes.Buffer

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(source))
				}
				buf.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	// Collapse the blank lines left by nested blocks.
	lines := strings.Split(buf.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
