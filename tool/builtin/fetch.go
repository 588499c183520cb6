// Package builtin ships ready-made tools: web fetch, arithmetic, time and
// a tenant-scoped key-value store.
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/no-ai-labs/spice-go/result"
	"github.com/no-ai-labs/spice-go/schema"
	"github.com/no-ai-labs/spice-go/tool"
)

const (
	defaultFetchBodyLimit = 5 * 1024 * 1024
	maxFetchTimeout       = 120 * time.Second
)

// NewFetch builds a tool that fetches a URL and renders the body as text,
// markdown or raw HTML. maxBodySize <= 0 falls back to 5 MB.
func NewFetch(maxBodySize int64) tool.Tool {
	if maxBodySize <= 0 {
		maxBodySize = defaultFetchBodyLimit
	}
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	s := tool.NewSchema(map[string]tool.Parameter{
		"url": tool.StringParam("URL to fetch content from", true),
		"format": {
			Type:        "string",
			Description: "output format: text, markdown or html",
			Default:     "markdown",
		},
		"timeout": tool.NumberParam("timeout in seconds, max 120", false),
	})

	return tool.New("fetch", "fetches a URL and converts the content", s,
		func(ctx context.Context, params map[string]any) (schema.ToolResult, error) {
			url, _ := params["url"].(string)
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return schema.ToolResult{}, result.Validation(
					"url must start with http:// or https://", "url", "string", url)
			}
			format := strings.ToLower(fmt.Sprintf("%v", params["format"]))
			if format != "text" && format != "markdown" && format != "html" {
				return schema.ToolResult{}, result.Validation(
					"format must be text, markdown or html", "format", "string", format)
			}

			if seconds := asSeconds(params["timeout"]); seconds > 0 {
				d := time.Duration(seconds) * time.Second
				if d > maxFetchTimeout {
					d = maxFetchTimeout
				}
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return schema.ToolResult{}, err
			}
			req.Header.Set("User-Agent", "spice-fetch/1.0")

			resp, err := client.Do(req)
			if err != nil {
				return schema.ToolResult{}, result.Network("fetch failed", 0, url).WithCause(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return schema.ToolResult{}, result.Network(
					fmt.Sprintf("unexpected status %d", resp.StatusCode), resp.StatusCode, url)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
			if err != nil {
				return schema.ToolResult{}, err
			}
			content := string(body)
			if !utf8.ValidString(content) {
				return schema.ErrorResult("response is not valid UTF-8", result.CodeSerialization), nil
			}

			if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
				content, err = renderHTML(content, format)
				if err != nil {
					return schema.ToolResult{}, err
				}
			}

			return schema.ToolResult{
				Status: schema.ToolStatusSuccess,
				Result: content,
				Metadata: map[string]any{
					"url":    url,
					"format": format,
					"size":   len(content),
				},
			}, nil
		})
}

func asSeconds(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func renderHTML(content, format string) (string, error) {
	switch format {
	case "text":
		return extractText(content)
	case "markdown":
		return md.NewConverter("", true, nil).ConvertString(content)
	default:
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}
		body, err := doc.Find("body").Html()
		if err != nil {
			return "", fmt.Errorf("extract body: %w", err)
		}
		return "<html>\n<body>\n" + body + "\n</body>\n</html>", nil
	}
}

func extractText(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	var parts []string
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n"), nil
}
