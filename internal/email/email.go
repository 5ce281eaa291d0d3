// Package email renders digests as HTML email and delivers them.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"newsdigest/internal/core"
	"newsdigest/internal/sanitize"
)

// DefaultSubjectPrefix is prepended to every digest title in the subject line.
const DefaultSubjectPrefix = "FMT News Digest"

// EmailTemplate represents an HTML email template configuration
type EmailTemplate struct {
	Name            string
	IncludeCSS      bool
	HeaderColor     string
	AccentColor     string
	BackgroundColor string
	TextColor       string
	LinkColor       string
	BorderColor     string
	MaxWidth        string
	FontFamily      string
	HeaderText      string
	FooterText      string
}

// EmailData contains all data needed for email rendering
type EmailData struct {
	Title     string
	Date      string
	Time      string
	WordCount int
	Content   template.HTML
	ImageSrc  template.URL
	ImageAlt  string
}

// GetDefaultEmailTemplate returns the responsive digest template
func GetDefaultEmailTemplate() *EmailTemplate {
	return &EmailTemplate{
		Name:            "default",
		IncludeCSS:      true,
		HeaderColor:     "#1d4ed8", // Blue-700
		AccentColor:     "#3b82f6", // Blue-500
		BackgroundColor: "#f8fafc", // Slate-50
		TextColor:       "#333333",
		LinkColor:       "#2563eb",
		BorderColor:     "#e2e8f0", // Slate-200
		MaxWidth:        "600px",
		FontFamily:      "-apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif",
		HeaderText:      "🗞️ FMT News Digest",
		FooterText:      "This digest was automatically generated from Free Malaysia Today news articles.",
	}
}

// GetMinimalEmailTemplate returns a plain template without colors
func GetMinimalEmailTemplate() *EmailTemplate {
	return &EmailTemplate{
		Name:            "minimal",
		IncludeCSS:      false,
		HeaderColor:     "#000000",
		AccentColor:     "#000000",
		BackgroundColor: "#ffffff",
		TextColor:       "#000000",
		LinkColor:       "#0000ee",
		BorderColor:     "#cccccc",
		MaxWidth:        "600px",
		FontFamily:      "Georgia, serif",
		HeaderText:      "News Digest",
		FooterText:      "This digest was automatically generated.",
	}
}

// getEmailCSS returns inline CSS for the email template
func getEmailCSS(t *EmailTemplate) string {
	return fmt.Sprintf(`<style>
  body {
    margin: 0 !important;
    padding: 0 !important;
    background-color: %s;
    font-family: %s;
    color: %s;
    line-height: 1.6;
  }
  .container {
    max-width: %s;
    margin: 0 auto;
    background-color: #ffffff;
    border: 1px solid %s;
    box-shadow: 0 4px 6px rgba(0,0,0,0.1);
  }
  .header {
    background: linear-gradient(135deg, %s, %s);
    color: #ffffff;
    padding: 32px;
    text-align: center;
  }
  .header h1 {
    margin: 0;
    font-size: 24px;
    font-weight: 600;
  }
  .header .date {
    margin: 8px 0 0 0;
    opacity: 0.9;
  }
  .content {
    padding: 32px;
  }
  .stats {
    background-color: %s;
    padding: 16px;
    border-radius: 8px;
    margin-bottom: 24px;
    font-size: 14px;
    color: #64748b;
  }
  .lead-image {
    width: 100%%;
    max-width: 600px;
    height: auto;
    border-radius: 8px;
    margin-bottom: 24px;
  }
  .digest-title {
    font-size: 20px;
    font-weight: 600;
    margin: 0 0 16px 0;
    color: #1e293b;
  }
  .digest-content p {
    margin: 0 0 16px 0;
  }
  .digest-content h2, .digest-content h3 {
    color: %s;
  }
  a {
    color: %s;
  }
  .footer {
    background-color: #f1f5f9;
    padding: 24px;
    text-align: center;
    font-size: 14px;
    color: #64748b;
    border-top: 1px solid %s;
  }
</style>`,
		t.BackgroundColor, t.FontFamily, t.TextColor,
		t.MaxWidth, t.BorderColor,
		t.AccentColor, t.HeaderColor,
		t.BackgroundColor,
		t.HeaderColor,
		t.LinkColor,
		t.BorderColor,
	)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Data.Title}}</title>
    {{if .Template.IncludeCSS}}{{.CSS}}{{end}}
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.Template.HeaderText}}</h1>
            <p class="date">{{.Data.Date}}</p>
        </div>

        <div class="content">
            <div class="stats">
                📊 {{.Data.WordCount}} words • Generated {{.Data.Time}}
            </div>

            {{if .Data.ImageSrc}}
            <img class="lead-image" src="{{.Data.ImageSrc}}" alt="{{.Data.ImageAlt}}">
            {{end}}

            <h2 class="digest-title">{{.Data.Title}}</h2>

            <div class="digest-content">
                {{.Data.Content}}
            </div>
        </div>

        <div class="footer">
            <p>{{.Template.FooterText}}</p>
        </div>
    </div>
</body>
</html>`

var emailTmpl = template.Must(template.New("email").Parse(htmlTemplate))

// RenderHTMLEmail renders the digest email body
func RenderHTMLEmail(data EmailData, emailTemplate *EmailTemplate) (string, error) {
	if emailTemplate == nil {
		emailTemplate = GetDefaultEmailTemplate()
	}

	templateData := struct {
		Data     EmailData
		Template *EmailTemplate
		CSS      template.HTML
	}{
		Data:     data,
		Template: emailTemplate,
		CSS:      template.HTML(getEmailCSS(emailTemplate)),
	}

	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, templateData); err != nil {
		return "", fmt.Errorf("failed to execute email template: %w", err)
	}

	return buf.String(), nil
}

// ConvertDigestToEmail converts a stored digest to email data. Dates are
// rendered in loc. The content is sanitized again before it is marked safe.
func ConvertDigestToEmail(d core.Digest, imageSrc string, now time.Time, loc *time.Location) EmailData {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	data := EmailData{
		Title:     d.Title,
		Date:      local.Format("Monday, January 2, 2006"),
		Time:      local.Format("3:04 PM MST"),
		WordCount: d.WordCount,
		Content:   template.HTML(sanitize.HTML(d.Content)),
	}
	if imageSrc != "" {
		data.ImageSrc = template.URL(imageSrc)
		data.ImageAlt = d.Title
	}
	return data
}

// GenerateSubject builds "<prefix>: <title>"
func GenerateSubject(prefix, title string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ": " + title
}

var (
	blockEndRegex = regexp.MustCompile(`(?i)</(p|h[1-6]|li|ul|ol|div|blockquote)>|<br\s*/?>`)
	blankRegex    = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives the text alternative of an HTML fragment: block
// elements become line breaks and all other markup is dropped.
func PlainText(htmlContent string) string {
	s := strings.NewReplacer("\r", " ", "\n", " ").Replace(htmlContent)
	s = blockEndRegex.ReplaceAllString(s, "\n\n")
	s = sanitize.StripTags(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRegex.ReplaceAllString(s, "\n\n"))
}

// renderPlainText builds the full text body sent next to the HTML one.
func renderPlainText(data EmailData, footer string) string {
	var b strings.Builder
	b.WriteString(data.Title)
	b.WriteString("\n")
	b.WriteString(data.Date)
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%d words • Generated %s\n\n", data.WordCount, data.Time))
	b.WriteString(PlainText(string(data.Content)))
	if footer != "" {
		b.WriteString("\n\n--\n")
		b.WriteString(footer)
	}
	b.WriteString("\n")
	return b.String()
}
