package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var defaultContentSelectors = []string{
	".entry-content",
	".post-content",
	".article-content",
	".content",
	"main article",
	".story-body",
}

const boilerplateSelectors = "script, style, nav, header, footer, .advertisement, .ads, .social-share"

// fetchArticleContent returns the unsanitized body text of an article page.
func (f *Fetcher) fetchArticleContent(ctx context.Context, articleURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ArticleTimeout)
	defer cancel()

	resp, err := f.get(ctx, articleURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse article: %w", err)
	}

	return extractContent(doc, f.opts.ContentSelectors), nil
}

// extractContent uses the first matching container, falling back to all
// paragraph text.
func extractContent(doc *goquery.Document, selectors []string) string {
	doc.Find(boilerplateSelectors).Remove()

	for _, selector := range selectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(sel.First().Text()); text != "" {
			return text
		}
	}

	var parts []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := strings.TrimSpace(p.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}
