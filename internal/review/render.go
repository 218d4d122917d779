package review

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

//nolint:gochecknoglobals // goldmark.Markdown is safe for concurrent use.
var markdown = goldmark.New()

// RenderInsights converts the review's markdown insights and recommendations to HTML for display.
func RenderInsights(r DailyReview) (string, error) {
	var buf bytes.Buffer
	for _, section := range []string{r.Insights, r.Recommendations} {
		if err := markdown.Convert([]byte(section), &buf); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
	}
	return buf.String(), nil
}
