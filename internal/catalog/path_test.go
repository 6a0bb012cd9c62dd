package catalog

import (
	"strings"
	"testing"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"plain", "https://cdn.example.com/images/photo.jpg", "AP001/photo.jpg"},
		{"query stripped", "https://cdn.example.com/photo.jpg?w=800&h=600", "AP001/photo.jpg"},
		{"fragment stripped", "https://cdn.example.com/photo.png#top", "AP001/photo.png"},
		{"encoded name", "https://cdn.example.com/a%20b.jpg", "AP001/a b.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolvePath(tt.url, "AP001"); got != tt.want {
				t.Errorf("ResolvePath(%s) = %s, want %s", tt.url, got, tt.want)
			}
		})
	}
}

func TestResolvePath_Deterministic(t *testing.T) {
	url := "https://cdn.example.com/images/photo.jpg"
	if ResolvePath(url, "AP001") != ResolvePath(url, "AP001") {
		t.Error("ResolvePath must be deterministic for well-formed URLs")
	}
}

func TestResolvePath_Fallback(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"no path", "https://cdn.example.com"},
		{"root only", "https://cdn.example.com/"},
		{"parent traversal", "https://cdn.example.com/.."},
		{"backslash in name", `https://cdn.example.com/a\b.jpg`},
		{"unparseable", "ht tp://%%%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolvePath(tt.url, "AP001")
			if !strings.HasPrefix(got, "AP001/fallback_") {
				t.Errorf("ResolvePath(%q) = %s, want a fallback name under AP001/", tt.url, got)
			}
			if strings.Contains(got, "..") {
				t.Errorf("ResolvePath(%q) = %s escapes the product folder", tt.url, got)
			}
		})
	}
}

func TestResolvePath_FallbackExtension(t *testing.T) {
	got := ResolvePath(`https://host/images\photo.png`, "AP001")
	if !strings.HasSuffix(got, ".png") {
		t.Errorf("fallback should keep a plausible extension, got %s", got)
	}
	got = ResolvePath("https://cdn-host", "AP001")
	if !strings.HasSuffix(got, ".jpg") {
		t.Errorf("fallback should default to .jpg, got %s", got)
	}
}
