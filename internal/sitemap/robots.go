package sitemap

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// RobotsFile is the companion artifact name.
const RobotsFile = "robots.txt"

// The default document points crawlers at the sitemap and nothing else.
// Operators who want a richer policy edit the file directly; it is never
// overwritten once present.
const robotsTemplate = `User-agent: *
Allow: /

Sitemap: {{ trimSuffix "/" .BaseURL }}/sitemap.xml
`

// EnsureRobots writes the default robots.txt if and only if none exists.
// Hand-customized files are left alone. Reports whether a file was created.
func EnsureRobots(outputDir, baseURL string) (bool, error) {
	path := filepath.Join(outputDir, RobotsFile)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("sitemap: stat robots: %w", err)
	}

	tmpl, err := template.New(RobotsFile).Funcs(sprig.TxtFuncMap()).Parse(robotsTemplate)
	if err != nil {
		return false, fmt.Errorf("sitemap: parse robots template: %w", err)
	}
	var rendered bytes.Buffer
	data := struct{ BaseURL string }{BaseURL: strings.TrimSpace(baseURL)}
	if err := tmpl.Execute(&rendered, data); err != nil {
		return false, fmt.Errorf("sitemap: render robots: %w", err)
	}
	if err := os.WriteFile(path, rendered.Bytes(), 0o644); err != nil {
		return false, fmt.Errorf("sitemap: write robots: %w", err)
	}
	return true, nil
}
