package fetch

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/logger"
	"newsdigest/internal/ratelimit"

	"github.com/PuerkitoBio/goquery"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const nationListing = `<html><body>
<div class="news-item"><h2>Parliament passes new economic reform bill</h2><a href="/nation/a1">read</a><span>2 hours ago</span></div>
<div class="news-item"><h2>Short</h2><a href="/nation/a2">read</a></div>
<div class="news-item"><h2>Old story about flooding in Kelantan</h2><a href="/nation/a3">read</a><span>8 hours ago</span></div>
<div class="news-item"><h3>Minister announces budget for Malaysia schools</h3><a href="/nation/a4">read</a><time datetime="2024-05-01T11:00:00Z">11am</time></div>
<div class="news-item"><h2>Parliament passes new economic reform bill</h2><a href="/nation/a1">again</a></div>
</body></html>`

const worldListing = `<html><body>
<article><h2>Global markets rally after rate decision</h2><a href="http://%s/world/w1">read</a></article>
</body></html>`

func newTestServer(t *testing.T, overrides map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var srv *httptest.Server
	handlers := map[string]http.HandlerFunc{
		"/nation": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(nationListing))
		},
		"/world": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(strings.Replace(worldListing, "%s", r.Host, 1)))
		},
		"/nation/a1": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><body><nav>Menu</nav><div class="entry-content"><p>The bill was passed on Tuesday.</p><script>track()</script><p>It now goes to the Senate.</p></div><footer>Footer</footer></body></html>`))
		},
		"/nation/a2": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<p>short body</p>`))
		},
		"/nation/a4": func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		},
		"/world/w1": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><body><p>Stocks rose.</p><p>Bonds fell.</p></body></html>`))
		},
	}
	for path, h := range overrides {
		handlers[path] = h
	}
	for path, h := range handlers {
		mux.HandleFunc(path, h)
	}

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type denyAll struct{}

func (denyAll) TryConsume(string) bool { return false }

func newTestFetcher(srv *httptest.Server, limiter RateLimiter, sections ...Section) *Fetcher {
	if len(sections) == 0 {
		sections = []Section{
			{Name: "nation", URL: srv.URL + "/nation", Category: core.CategoryDomestic, Kind: KindHTML},
			{Name: "world", URL: srv.URL + "/world", Category: core.CategoryInternational, Kind: KindHTML},
		}
	}
	return New(Options{
		Sections:       sections,
		Retention:      6 * time.Hour,
		ArticleTimeout: 2 * time.Second,
		MediaPath:      "/wp-content/uploads/",
	}, limiter,
		WithHTTPClient(srv.Client()),
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return testNow }),
	)
}

func TestFetchLatestNews(t *testing.T) {
	srv := newTestServer(t, nil)
	f := newTestFetcher(srv, nil)

	result, err := f.FetchLatestNews(t.Context(), 10)
	if err != nil {
		t.Fatalf("FetchLatestNews failed: %v", err)
	}

	if result.Candidates != 4 {
		t.Errorf("Expected 4 candidates, got %d", result.Candidates)
	}

	wantTitles := []string{
		"Parliament passes new economic reform bill",
		"Minister announces budget for Malaysia schools",
		"Global markets rally after rate decision",
	}
	if len(result.Articles) != len(wantTitles) {
		t.Fatalf("Expected %d articles, got %d", len(wantTitles), len(result.Articles))
	}
	for i, want := range wantTitles {
		if result.Articles[i].Title != want {
			t.Errorf("Article %d: expected title %q, got %q", i, want, result.Articles[i].Title)
		}
	}

	a1 := result.Articles[0]
	if a1.URL != srv.URL+"/nation/a1" {
		t.Errorf("Expected absolute URL, got %s", a1.URL)
	}
	if a1.Content != "The bill was passed on Tuesday.It now goes to the Senate." {
		t.Errorf("Unexpected content: %q", a1.Content)
	}
	if strings.Contains(a1.RawContent, "track()") || strings.Contains(a1.RawContent, "Menu") {
		t.Errorf("Expected boilerplate to be removed, got %q", a1.RawContent)
	}
	if !a1.PublishedAt.Equal(testNow.Add(-2 * time.Hour)) {
		t.Errorf("Expected relative time to resolve to 10:00, got %v", a1.PublishedAt)
	}
	if a1.Category != core.CategoryDomestic {
		t.Errorf("Expected domestic category, got %s", a1.Category)
	}

	a4 := result.Articles[1]
	if a4.Content != a4.Title {
		t.Errorf("Expected failed article to fall back to title, got %q", a4.Content)
	}
	if !a4.PublishedAt.Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected datetime attribute to be used, got %v", a4.PublishedAt)
	}

	w1 := result.Articles[2]
	if w1.Content != "Stocks rose. Bonds fell." {
		t.Errorf("Expected paragraph fallback, got %q", w1.Content)
	}
	if w1.Category != core.CategoryInternational {
		t.Errorf("Expected international category, got %s", w1.Category)
	}
	if !w1.PublishedAt.Equal(testNow) {
		t.Errorf("Expected missing time hint to default to now, got %v", w1.PublishedAt)
	}
}

func TestFetchLatestNewsArticleTimeoutFallsBackToTitle(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/nation/a1": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		},
	})
	f := New(Options{
		Sections:       []Section{{Name: "nation", URL: srv.URL + "/nation", Category: core.CategoryDomestic, Kind: KindHTML}},
		Retention:      6 * time.Hour,
		ArticleTimeout: 100 * time.Millisecond,
	}, nil,
		WithHTTPClient(srv.Client()),
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return testNow }),
	)

	start := time.Now()
	result, err := f.FetchLatestNews(t.Context(), 10)
	if err != nil {
		t.Fatalf("Expected slow article to be skipped, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Expected the article timeout to bound the fetch, took %v", elapsed)
	}
	if len(result.Articles) != 2 {
		t.Fatalf("Expected 2 articles, got %d", len(result.Articles))
	}
	a1 := result.Articles[0]
	if a1.Title != "Parliament passes new economic reform bill" {
		t.Fatalf("Unexpected first article %q", a1.Title)
	}
	if a1.Content != a1.Title {
		t.Errorf("Expected timed out article to fall back to title, got %q", a1.Content)
	}
}

func TestParseListingReadsRelativeTimeFromSiblingElement(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div class="news-item"><h2>Old story about flooding in Kelantan</h2><a href="/nation/a3">read</a><span>8 hours ago</span></div>`))
	if err != nil {
		t.Fatalf("Failed to parse fixture: %v", err)
	}
	base, _ := url.Parse("https://news.example.com/category/nation/")

	entries := parseListing(doc, base, core.CategoryDomestic, testNow, time.UTC)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if want := testNow.Add(-8 * time.Hour); !entries[0].PublishedAt.Equal(want) {
		t.Errorf("Expected published time %v, got %v", want, entries[0].PublishedAt)
	}
}

func TestFetchLatestNewsCapsCandidates(t *testing.T) {
	srv := newTestServer(t, nil)
	f := newTestFetcher(srv, nil)

	result, err := f.FetchLatestNews(t.Context(), 1)
	if err != nil {
		t.Fatalf("FetchLatestNews failed: %v", err)
	}
	if result.Candidates != 2 {
		t.Errorf("Expected candidates capped at 2, got %d", result.Candidates)
	}
	if len(result.Articles) != 1 {
		t.Fatalf("Expected 1 article, got %d", len(result.Articles))
	}
}

func TestFetchLatestNewsPrimaryFailure(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/nation": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	f := newTestFetcher(srv, nil)

	_, err := f.FetchLatestNews(t.Context(), 10)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", fetchErr.StatusCode)
	}
}

func TestFetchLatestNewsSecondaryFailureIsSkipped(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/world": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	f := newTestFetcher(srv, nil)

	result, err := f.FetchLatestNews(t.Context(), 10)
	if err != nil {
		t.Fatalf("Expected secondary failure to be skipped, got %v", err)
	}
	if len(result.Articles) != 2 {
		t.Errorf("Expected 2 domestic articles, got %d", len(result.Articles))
	}
}

func TestFetchLatestNewsRateLimited(t *testing.T) {
	srv := newTestServer(t, nil)
	f := newTestFetcher(srv, denyAll{})

	_, err := f.FetchLatestNews(t.Context(), 10)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if !errors.Is(err, ratelimit.ErrLimitExceeded) {
		t.Errorf("Expected rate limit error, got %v", err)
	}
}

func TestFetchLatestNewsTruncatesContent(t *testing.T) {
	long := strings.Repeat("word ", 1000)
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/nation/a1": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<div class="entry-content">` + long + `</div>`))
		},
	})
	f := newTestFetcher(srv, nil)

	result, err := f.FetchLatestNews(t.Context(), 10)
	if err != nil {
		t.Fatalf("FetchLatestNews failed: %v", err)
	}
	if got := len(result.Articles[0].Content); got != core.MaxContentLength {
		t.Errorf("Expected content of %d chars, got %d", core.MaxContentLength, got)
	}
	if len(result.Articles[0].RawContent) <= core.MaxContentLength {
		t.Error("Expected raw content to keep the full text")
	}
}

func TestFetchLatestNewsRSSSection(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Feed</title>
<item><title>Flood relief centres opened in Pahang</title><link>/nation/a1</link><pubDate>Wed, 01 May 2024 10:30:00 +0000</pubDate></item>
<item><title>Yesterday's archived news item here</title><link>/nation/old</link><pubDate>Tue, 30 Apr 2024 08:00:00 +0000</pubDate></item>
</channel></rss>`
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/feed": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/rss+xml")
			w.Write([]byte(feed))
		},
	})
	f := newTestFetcher(srv, nil, Section{Name: "feed", URL: srv.URL + "/feed", Category: core.CategoryDomestic, Kind: KindRSS})

	result, err := f.FetchLatestNews(t.Context(), 10)
	if err != nil {
		t.Fatalf("FetchLatestNews failed: %v", err)
	}
	if len(result.Articles) != 1 {
		t.Fatalf("Expected 1 article inside the retention window, got %d", len(result.Articles))
	}
	if result.Articles[0].Title != "Flood relief centres opened in Pahang" {
		t.Errorf("Unexpected title %q", result.Articles[0].Title)
	}
	if result.Articles[0].URL != srv.URL+"/nation/a1" {
		t.Errorf("Expected link resolved against the feed URL, got %s", result.Articles[0].URL)
	}
}

func TestFetchLatestNewsUnknownKind(t *testing.T) {
	srv := newTestServer(t, nil)
	f := newTestFetcher(srv, nil, Section{Name: "x", URL: srv.URL + "/nation", Kind: "atom"})

	_, err := f.FetchLatestNews(t.Context(), 10)
	if !errors.Is(err, ErrUnknownSectionKind) {
		t.Errorf("Expected ErrUnknownSectionKind, got %v", err)
	}
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func TestSelectLeadImageConvertsContentImage(t *testing.T) {
	pngData := testPNG(t, 800, 400)
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/story": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<div class="entry-content">
<img src="/wp-content/uploads/site-logo.png">
<img src="/static/photo.png">
<img data-src="/wp-content/uploads/2024/05/photo.png" src="data:image/gif;base64,R0lGOD">
</div>`))
		},
		"/wp-content/uploads/2024/05/photo.png": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngData)
		},
	})
	f := newTestFetcher(srv, nil)

	img, err := f.SelectLeadImage(t.Context(), core.Article{URL: srv.URL + "/story"})
	if err != nil {
		t.Fatalf("SelectLeadImage failed: %v", err)
	}
	if img.SourceURL != srv.URL+"/wp-content/uploads/2024/05/photo.png" {
		t.Errorf("Unexpected source URL %s", img.SourceURL)
	}
	if !strings.HasPrefix(img.DataURI, "data:image/jpeg;base64,") {
		t.Fatalf("Expected JPEG data URI, got %.40s", img.DataURI)
	}
	if img.Src() != img.DataURI {
		t.Error("Expected Src to prefer the data URI")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img.DataURI, "data:image/jpeg;base64,"))
	if err != nil {
		t.Fatalf("Invalid base64: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Expected a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != maxImageWidth || decoded.Bounds().Dy() != 300 {
		t.Errorf("Expected image scaled to 600x300, got %v", decoded.Bounds())
	}
}

func TestSelectLeadImageFallsBackToMetaAndURL(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/story": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><head><meta property="og:image" content="/images/cover.webp"></head>
<body><div class="entry-content"><img src="/wp-content/uploads/avatar.png"></div></body></html>`))
		},
		"/images/cover.webp": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not really an image"))
		},
	})
	f := newTestFetcher(srv, nil)

	img, err := f.SelectLeadImage(t.Context(), core.Article{URL: srv.URL + "/story"})
	if err != nil {
		t.Fatalf("SelectLeadImage failed: %v", err)
	}
	if img.SourceURL != srv.URL+"/images/cover.webp" {
		t.Errorf("Expected og:image to be used, got %s", img.SourceURL)
	}
	if img.DataURI != "" {
		t.Error("Expected conversion failure to leave DataURI empty")
	}
	if img.Src() != img.SourceURL {
		t.Error("Expected Src to fall back to the remote URL")
	}
}

func TestSelectLeadImageNone(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/story": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><body><img src="/theme/icon.png"><p>No pictures</p></body></html>`))
		},
	})
	f := newTestFetcher(srv, nil)

	img, err := f.SelectLeadImage(t.Context(), core.Article{URL: srv.URL + "/story"})
	if !errors.Is(err, ErrNoImage) {
		t.Errorf("Expected ErrNoImage, got %v", err)
	}
	if !img.Empty() {
		t.Errorf("Expected empty image, got %+v", img)
	}
}

func TestConvertToJPEGFlattensTransparencyOntoWhite(t *testing.T) {
	// Left half opaque red, right half fully transparent; the halves line
	// up with JPEG block edges.
	src := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			if x < 16 {
				src.Set(x, y, color.NRGBA{R: 200, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}

	out, err := ConvertToJPEG(buf.Bytes())
	if err != nil {
		t.Fatalf("ConvertToJPEG failed: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Output is not a JPEG: %v", err)
	}

	r, g, b, _ := img.At(28, 20).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("Expected transparent area to be white, got rgb(%d, %d, %d)", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = img.At(4, 20).RGBA()
	if r>>8 < 150 || g>>8 > 80 || b>>8 > 80 {
		t.Errorf("Expected opaque area to stay red, got rgb(%d, %d, %d)", r>>8, g>>8, b>>8)
	}
}

func TestConvertToJPEGRejectsGarbage(t *testing.T) {
	if _, err := ConvertToJPEG(nil); err == nil {
		t.Error("Expected error for empty data")
	}
	if _, err := ConvertToJPEG([]byte("garbage")); err == nil {
		t.Error("Expected error for undecodable data")
	}
}

func TestParseRelativeTime(t *testing.T) {
	tests := []struct {
		text string
		want time.Duration
		ok   bool
	}{
		{"2 hours ago", 2 * time.Hour, true},
		{"Updated 5 mins ago", 5 * time.Minute, true},
		{"1 day ago", 24 * time.Hour, true},
		{"an hour ago", time.Hour, true},
		{"30 seconds ago", 30 * time.Second, true},
		{"3 hrs ago", 3 * time.Hour, true},
		{"published yesterday", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseRelativeTime(tt.text, testNow)
		if ok != tt.ok {
			t.Errorf("%q: expected ok=%v, got %v", tt.text, tt.ok, ok)
			continue
		}
		if ok && !got.Equal(testNow.Add(-tt.want)) {
			t.Errorf("%q: expected %v, got %v", tt.text, testNow.Add(-tt.want), got)
		}
	}
}

func TestParseDatetime(t *testing.T) {
	kl, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		t.Skip("timezone data unavailable")
	}

	got, ok := ParseDatetime("2024-05-01 08:00:00", kl)
	if !ok {
		t.Fatal("Expected datetime to parse")
	}
	if !got.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected local time to be interpreted in Kuala Lumpur, got %v", got.UTC())
	}

	if _, ok := ParseDatetime("not a date", kl); ok {
		t.Error("Expected parse failure")
	}
}
