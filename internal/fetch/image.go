package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"strings"

	"newsdigest/internal/core"
	"newsdigest/internal/sanitize"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	maxImageWidth = 600
	jpegQuality   = 85
)

// LeadImage is the picture shown at the top of the digest email.
type LeadImage struct {
	SourceURL string `json:"source_url"`
	DataURI   string `json:"-"` // data:image/jpeg;base64,... when conversion succeeded
}

// Src returns the embedded image when available, otherwise the remote URL.
func (li LeadImage) Src() string {
	if li.DataURI != "" {
		return li.DataURI
	}
	return li.SourceURL
}

// Empty reports whether no image was selected.
func (li LeadImage) Empty() bool {
	return li.SourceURL == "" && li.DataURI == ""
}

var (
	articleImageSelectors = []string{
		".entry-content img",
		".post-content img",
		".article-content img",
		".featured-image img",
		"img.wp-post-image",
		"article img",
	}
	widenedImageSelectors = []string{
		"main img",
		".content img",
		"figure img",
		"img",
	}
	excludedImageHints = []string{"logo", "icon", "/ads/", "-ad-", "advert", "banner", "avatar", "sprite", "gravatar"}
)

// SelectLeadImage picks, downloads and converts a representative image for
// the top story. It returns ErrNoImage when nothing suitable was found.
// A download or conversion failure still yields the remote URL.
func (f *Fetcher) SelectLeadImage(ctx context.Context, article core.Article) (LeadImage, error) {
	src, err := f.findArticleImage(ctx, article.URL)
	if err != nil {
		f.log.Warn("Primary image lookup failed", "error", sanitize.Error(err))
	}
	if src == "" {
		// Secondary pass: fetch the page again and widen the search
		src, err = f.findFallbackImage(ctx, article.URL)
		if err != nil {
			return LeadImage{}, fmt.Errorf("find lead image: %w", err)
		}
	}
	if src == "" {
		return LeadImage{}, ErrNoImage
	}

	dataURI, err := f.convertImage(ctx, src)
	if err != nil {
		f.log.Warn("Image conversion failed, using remote URL", "error", sanitize.Error(err))
		return LeadImage{SourceURL: src}, nil
	}
	return LeadImage{SourceURL: src, DataURI: dataURI}, nil
}

func (f *Fetcher) loadDocument(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ArticleTimeout)
	defer cancel()

	resp, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, err
	}
	return doc, base, nil
}

// findArticleImage looks for a content image served from the media path.
func (f *Fetcher) findArticleImage(ctx context.Context, pageURL string) (string, error) {
	doc, base, err := f.loadDocument(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return f.firstImage(doc, base, articleImageSelectors, true), nil
}

// findFallbackImage tries social meta tags, then a widened selector set.
func (f *Fetcher) findFallbackImage(ctx context.Context, pageURL string) (string, error) {
	doc, base, err := f.loadDocument(ctx, pageURL)
	if err != nil {
		return "", err
	}

	for _, meta := range []string{
		`meta[property="og:image"]`,
		`meta[name="og:image"]`,
		`meta[name="twitter:image"]`,
		`meta[property="twitter:image"]`,
	} {
		if content, ok := doc.Find(meta).First().Attr("content"); ok {
			if src := resolveURL(base, content); src != "" && !excludedImage(src) {
				return src, nil
			}
		}
	}

	return f.firstImage(doc, base, widenedImageSelectors, false), nil
}

func (f *Fetcher) firstImage(doc *goquery.Document, base *url.URL, selectors []string, requireMediaPath bool) string {
	for _, selector := range selectors {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src := resolveURL(base, imageSource(img))
			if src == "" || excludedImage(src) {
				return true
			}
			if requireMediaPath && f.opts.MediaPath != "" && !strings.Contains(src, f.opts.MediaPath) {
				return true
			}
			found = src
			return false
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// imageSource handles lazy-loading attributes and srcset.
func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-lazy-src", "src"} {
		if v, ok := img.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	if srcset, ok := img.Attr("srcset"); ok {
		first := strings.TrimSpace(strings.Split(srcset, ",")[0])
		if fields := strings.Fields(first); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

func excludedImage(src string) bool {
	lower := strings.ToLower(src)
	for _, hint := range excludedImageHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// convertImage downloads src and re-encodes it as a JPEG data URI.
func (f *Fetcher) convertImage(ctx context.Context, src string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ArticleTimeout)
	defer cancel()

	resp, err := f.get(ctx, src)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > f.opts.MaxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", f.opts.MaxImageBytes)
	}

	encoded, err := ConvertToJPEG(data)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(encoded), nil
}

// ConvertToJPEG decodes a WebP, PNG, GIF or JPEG image and re-encodes it as
// JPEG, scaling it down to the email width.
func ConvertToJPEG(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxImageWidth {
		height = height * maxImageWidth / width
		width = maxImageWidth
	}

	// JPEG has no alpha channel; transparent pixels are composited onto white.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if width == bounds.Dx() {
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
