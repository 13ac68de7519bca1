package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type adviceMsg struct {
	seq    int
	advice string
	err    error
}

// adviceState follows the same last-issued-wins rule as the summary fetches.
type adviceState struct {
	issuedSeq  int
	appliedSeq int
	loading    bool
	err        string
	markdown   string
}

func (a *adviceState) request(client *apiClient, vm DashboardViewModel, timeout time.Duration) tea.Cmd {
	a.issuedSeq++
	seq := a.issuedSeq
	a.loading = true
	a.err = ""
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		advice, err := client.Advice(ctx, vm)
		return adviceMsg{seq: seq, advice: advice, err: err}
	}
}

func (a *adviceState) apply(msg adviceMsg) bool {
	if msg.seq <= a.appliedSeq {
		return false
	}
	a.appliedSeq = msg.seq
	a.loading = a.appliedSeq < a.issuedSeq
	if msg.err != nil {
		a.err = describeError(msg.err)
		return true
	}
	a.markdown = msg.advice
	return true
}

var markdownParser = goldmark.New().Parser()

// renderMarkdown converts advice markdown into styled terminal text.
func renderMarkdown(source string, width int) string {
	src := []byte(source)
	doc := markdownParser.Parse(text.NewReader(src))
	blocks := renderBlocks(doc, src, width, 0)
	return strings.TrimRight(strings.Join(blocks, "\n\n"), "\n")
}

func renderBlocks(parent ast.Node, src []byte, width, depth int) []string {
	blocks := []string{}
	for node := parent.FirstChild(); node != nil; node = node.NextSibling() {
		if block := renderBlock(node, src, width, depth); block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func renderBlock(node ast.Node, src []byte, width, depth int) string {
	switch n := node.(type) {
	case *ast.Heading:
		title := inlineText(n, src)
		if n.Level <= 2 {
			return headerStyle.Underline(true).Render(title)
		}
		return headerStyle.Render(title)
	case *ast.Paragraph, *ast.TextBlock:
		return wrap(inlineText(n, src), width)
	case *ast.List:
		return renderList(n, src, width, depth)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return codeStyle.Render(strings.TrimRight(blockLines(n, src), "\n"))
	case *ast.Blockquote:
		inner := strings.Join(renderBlocks(n, src, width-2, depth), "\n")
		lines := strings.Split(inner, "\n")
		for i, line := range lines {
			lines[i] = subtle.Render("│ ") + line
		}
		return strings.Join(lines, "\n")
	case *ast.ThematicBreak:
		return subtle.Render(strings.Repeat("─", clampWidth(width)))
	case *ast.HTMLBlock:
		return ""
	default:
		return strings.Join(renderBlocks(n, src, width, depth), "\n\n")
	}
}

func renderList(list *ast.List, src []byte, width, depth int) string {
	indent := strings.Repeat("  ", depth)
	number := list.Start
	if number == 0 {
		number = 1
	}
	items := []string{}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "•"
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d.", number)
			number++
		}
		parts := []string{}
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			if nested, ok := child.(*ast.List); ok {
				parts = append(parts, renderList(nested, src, width, depth+1))
				continue
			}
			parts = append(parts, inlineText(child, src))
		}
		first := ""
		rest := []string{}
		if len(parts) > 0 {
			first = parts[0]
			rest = parts[1:]
		}
		line := indent + accent.Render(marker) + " " + wrap(first, width-len(indent)-len(marker)-1)
		items = append(items, strings.Join(append([]string{line}, rest...), "\n"))
	}
	return strings.Join(items, "\n")
}

func inlineText(node ast.Node, src []byte) string {
	var b strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(src))
			if c.HardLineBreak() {
				b.WriteByte('\n')
			} else if c.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.CodeSpan:
			b.WriteString(codeStyle.Render(inlineText(c, src)))
		case *ast.Emphasis:
			if c.Level >= 2 {
				b.WriteString(boldStyle.Render(inlineText(c, src)))
			} else {
				b.WriteString(italicStyle.Render(inlineText(c, src)))
			}
		case *ast.AutoLink:
			b.Write(c.URL(src))
		case *ast.RawHTML:
		default:
			b.WriteString(inlineText(c, src))
		}
	}
	return b.String()
}

func blockLines(node ast.Node, src []byte) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(src))
	}
	return b.String()
}

func wrap(value string, width int) string {
	return lipgloss.NewStyle().Width(clampWidth(width)).Render(value)
}

func clampWidth(width int) int {
	if width < 20 {
		return 20
	}
	if width > 100 {
		return 100
	}
	return width
}
