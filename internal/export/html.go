package export

import (
	"fmt"
	"html"
	"strings"

	"redline/engine/internal/docmodel"
)

// RenderHTML converts a document tree to HTML. Pending revision nodes
// render as tracked changes: additions as <ins>, deletions as <del>,
// substitutions as a del/ins pair.
func RenderHTML(root *docmodel.Node) string {
	if root == nil {
		return ""
	}
	return renderNode(root)
}

func renderNode(node *docmodel.Node) string {
	switch node.Type {
	case docmodel.TypeDoc:
		return renderContent(node.Content)
	case docmodel.TypeParagraph:
		return fmt.Sprintf("<p>%s</p>\n", renderContent(node.Content))
	case docmodel.TypeText:
		return renderTextWithMarks(node.Text, node.Marks)
	case docmodel.TypeRevision:
		return renderRevision(node)
	default:
		// Unknown node type - render content if any
		return renderContent(node.Content)
	}
}

func renderRevision(node *docmodel.Node) string {
	original := html.EscapeString(node.Attr("original"))
	replacement := html.EscapeString(node.Attr("replacement"))
	switch node.Attr("kind") {
	case "addition":
		return fmt.Sprintf(`<ins class="revision">%s</ins>`, replacement)
	case "deletion":
		return fmt.Sprintf(`<del class="revision">%s</del>`, original)
	case "substitution":
		return fmt.Sprintf(`<del class="revision">%s</del><ins class="revision">%s</ins>`, original, replacement)
	default:
		return renderContent(node.Content)
	}
}

func renderContent(content []*docmodel.Node) string {
	var result strings.Builder
	for _, node := range content {
		result.WriteString(renderNode(node))
	}
	return result.String()
}

func renderTextWithMarks(text string, marks []docmodel.Mark) string {
	if text == "" {
		return ""
	}
	htmlText := html.EscapeString(text)
	if len(marks) == 0 {
		return htmlText
	}

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		case "code":
			htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
		case "strike":
			htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
		case "underline":
			htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
		}
	}
	return htmlText
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: Georgia, serif; max-width: 42em; margin: 2em auto; line-height: 1.5; }
ins.revision { background: #e6ffe6; text-decoration: none; }
del.revision { background: #ffe6e6; }
</style>
</head>
<body>
<h1>%s</h1>
%s</body>
</html>
`

// RenderPage wraps the rendered content in a standalone HTML page.
func RenderPage(title string, root *docmodel.Node) string {
	escaped := html.EscapeString(title)
	return fmt.Sprintf(pageTemplate, escaped, escaped, RenderHTML(root))
}
