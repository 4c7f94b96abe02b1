package llm

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// languageByExt maps artifact extensions to fence language tags.
var languageByExt = map[string][]string{
	".py": {"python", "py"},
	".go": {"go", "golang"},
	".js": {"javascript", "js"},
	".ts": {"typescript", "ts"},
	".rs": {"rust", "rs"},
	".rb": {"ruby", "rb"},
	".sh": {"bash", "sh", "shell"},
}

// ExtractCode returns the fenced code in a model answer. When ext names a
// known language, blocks tagged with it win over other blocks. An answer
// without fences is returned trimmed, as-is.
func ExtractCode(answer, ext string) string {
	source := []byte(answer)
	doc := markdown.Parser().Parse(text.NewReader(source))

	wanted := map[string]bool{}
	for _, lang := range languageByExt[strings.ToLower(ext)] {
		wanted[lang] = true
	}

	var all, matching []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var b strings.Builder
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		code := strings.TrimRight(b.String(), "\n")
		all = append(all, code)
		if wanted[strings.ToLower(string(block.Language(source)))] {
			matching = append(matching, code)
		}
		return ast.WalkSkipChildren, nil
	})

	switch {
	case len(matching) > 0:
		return strings.Join(matching, "\n\n") + "\n"
	case len(all) > 0:
		return strings.Join(all, "\n\n") + "\n"
	default:
		return strings.TrimSpace(answer)
	}
}
