// Package htmlconv holds the opaque HTML-to-PDF conversion contract and the
// plain-text wrapping template applied before conversion.
package htmlconv

import (
	"fmt"
	"html"
	"strings"
)

// Converter renders HTML to PDF bytes. Stores treat it as opaque: a nil
// Converter (or a conversion error) makes them fall back to persisting the
// source markup verbatim.
type Converter func(htmlContent string) ([]byte, error)

const textTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; margin: 2cm; color: #333; }
        .container { max-width: 800px; margin: 0 auto; }
        .header { border-bottom: 1px solid #ddd; padding-bottom: 10px; margin-bottom: 20px; }
        .content { white-space: pre-wrap; font-family: monospace; background-color: #f9f9f9; padding: 15px; border-radius: 5px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>%s</h1></div>
        <div class="content">%s</div>
    </div>
</body>
</html>`

// WrapText wraps plain text in a minimal printable HTML document so it can
// be fed through a Converter.
func WrapText(text, title string) string {
	if title == "" {
		title = "Document"
	}
	escapedTitle := html.EscapeString(title)
	body := strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	return fmt.Sprintf(textTemplate, escapedTitle, escapedTitle, body)
}
