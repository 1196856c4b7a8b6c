package tts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mitchellh/go-homedir"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"
)

// ArticleFormat selects how an article's content becomes speakable text.
type ArticleFormat string

// Article formats.
const (
	FormatText     ArticleFormat = "text"
	FormatMarkdown ArticleFormat = "markdown"
)

// Article is a reading-list entry.
type Article struct {
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	URL       string        `json:"url,omitempty"`
	Timestamp int64         `json:"timestamp,omitempty"` // Unix milliseconds
	Format    ArticleFormat `json:"format,omitempty"`
}

// Time returns the article timestamp.
func (a Article) Time() time.Time {
	if a.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(a.Timestamp)
}

// SpeakableText returns the text to read aloud. Content with nothing to
// speak, including markdown that is only code or HTML, falls back to the
// title. The result is NFC-normalized.
func (a Article) SpeakableText() string {
	content := a.Content
	if a.Format == FormatMarkdown {
		_, content = MarkdownToText(content)
	}
	if strings.TrimSpace(content) == "" {
		return norm.NFC.String(strings.TrimSpace(a.Title))
	}
	return norm.NFC.String(content)
}

// LoadArticleFile reads an article from path. "-" reads standard input.
func LoadArticleFile(path string) (Article, error) {
	if path == "-" {
		return LoadArticle(os.Stdin, "")
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return Article{}, fmt.Errorf("unable to expand path: %w", err)
	}
	f, err := os.Open(expanded)
	if err != nil {
		return Article{}, fmt.Errorf("unable to open article: %w", err)
	}
	defer f.Close() //nolint:errcheck

	a, err := LoadArticle(f, expanded)
	if err != nil {
		return Article{}, err
	}
	if a.URL == "" {
		if abs, err := filepath.Abs(expanded); err == nil {
			a.URL = "file://" + abs
		}
	}
	return a, nil
}

// LoadArticle reads an article from r. The format is chosen from the file
// extension of name: .json holds an Article record, .txt plain text, and
// anything else is read as markdown.
func LoadArticle(r io.Reader, name string) (Article, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Article{}, fmt.Errorf("unable to read article: %w", err)
	}
	if !utf8.Valid(b) {
		return Article{}, fmt.Errorf("%w: content is not valid UTF-8", ErrUnknownFormat)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".json" || (name == "" && bytes.HasPrefix(bytes.TrimSpace(b), []byte("{"))) {
		var a Article
		if err := json.Unmarshal(b, &a); err != nil {
			return Article{}, fmt.Errorf("unable to decode article: %w", err)
		}
		switch a.Format {
		case "", FormatText, FormatMarkdown:
		default:
			return Article{}, fmt.Errorf("%w: %q", ErrUnknownFormat, a.Format)
		}
		return a, nil
	}

	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if name == "" {
		base = ""
	}

	if ext == ".txt" {
		return Article{Title: base, Content: string(b), Format: FormatText}, nil
	}

	title, _ := MarkdownToText(string(b))
	if title == "" {
		title = base
	}
	return Article{Title: title, Content: string(b), Format: FormatMarkdown}, nil
}

// MarkdownToText extracts the speakable prose of a markdown document and its
// first heading. Code blocks and raw HTML are skipped. Headings without
// terminal punctuation get a period so they are read as their own sentence.
func MarkdownToText(source string) (title, body string) {
	src := []byte(source)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var blocks []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil

		case *ast.Heading:
			s := extractText(node, src)
			if s == "" {
				return ast.WalkSkipChildren, nil
			}
			if title == "" && node.Level == 1 {
				title = s
			}
			if r, _ := utf8.DecodeLastRuneInString(s); r != '.' && r != '!' && r != '?' {
				s += "."
			}
			blocks = append(blocks, s)
			return ast.WalkSkipChildren, nil

		case *ast.Paragraph, *ast.TextBlock:
			if s := extractText(node, src); s != "" {
				blocks = append(blocks, s)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return title, strings.Join(blocks, "\n\n")
}

// extractText extracts text content from a node
func extractText(node ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for child := n.FirstChild(); child != nil; child = child.NextSibling() {
			switch c := child.(type) {
			case *ast.Text:
				b.Write(c.Segment.Value(src))
				if c.SoftLineBreak() || c.HardLineBreak() {
					b.WriteByte(' ')
				}
			case *ast.String:
				b.Write(c.Value)
			case *ast.AutoLink:
				b.Write(c.Label(src))
			case *ast.RawHTML:
			default:
				walk(c)
			}
		}
	}
	walk(node)
	return strings.Join(strings.Fields(b.String()), " ")
}
