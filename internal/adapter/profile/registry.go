package profile

import (
	"math/rand/v2"

	"github.com/cwygoda/harvester/internal/domain"
)

const (
	acceptChrome  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9"
	acceptFirefox = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptSafari  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Accept-Encoding is left to the transport so gzip bodies are decoded transparently.
var defaults = []domain.HeaderProfile{
	{
		Name: "chrome-windows",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
			"Accept":          acceptChrome,
			"Accept-Language": "en-US,en;q=0.9",
			"Connection":      "keep-alive",
		},
	},
	{
		Name: "chrome-macos",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
			"Accept":          acceptChrome,
			"Accept-Language": "en-GB,en;q=0.9",
			"Connection":      "keep-alive",
		},
	},
	{
		Name: "firefox-windows",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:107.0) Gecko/20100101 Firefox/107.0",
			"Accept":          acceptFirefox,
			"Accept-Language": "en-US,en;q=0.5",
			"Connection":      "keep-alive",
		},
	},
	{
		Name: "safari-ios",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/604.1",
			"Accept":          acceptSafari,
			"Accept-Language": "en-US,en;q=0.9",
			"Connection":      "keep-alive",
		},
	},
}

// Registry holds the header profiles fetches rotate through.
type Registry struct {
	profiles []domain.HeaderProfile
}

// NewRegistry creates an empty profile registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Defaults returns a registry loaded with the built-in browser profiles.
func Defaults() *Registry {
	r := NewRegistry()
	for _, p := range defaults {
		r.Register(p)
	}
	return r
}

// Register adds a profile to the registry.
func (r *Registry) Register(p domain.HeaderProfile) {
	r.profiles = append(r.profiles, p)
}

// Pick returns a profile chosen uniformly at random, or the zero profile if
// the registry is empty. Safe for concurrent use once registration is done.
func (r *Registry) Pick() domain.HeaderProfile {
	if len(r.profiles) == 0 {
		return domain.HeaderProfile{}
	}
	return r.profiles[rand.IntN(len(r.profiles))]
}

// Profiles returns all registered profiles.
func (r *Registry) Profiles() []domain.HeaderProfile {
	return r.profiles
}
