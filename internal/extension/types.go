package extension

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Manifest describes an extension, declared by the script itself via a
// top-level `manifest` object. Immutable once read; re-extracted on every
// (re)load.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Lang        string `json:"lang,omitempty"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	NSFW        bool   `json:"nsfw,omitempty"`
}

// Validate checks the required manifest fields.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest missing id")
	}
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	return nil
}

// SearchItem is one entry of a search, latest, or popular listing.
type SearchItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	CoverURL string `json:"coverUrl,omitempty"`
	URL      string `json:"url"`
}

// SearchPage is the result of search/getLatest/getPopular.
type SearchPage struct {
	HasNextPage bool         `json:"hasNextPage"`
	Results     []SearchItem `json:"results"`
}

// EmptyPage returns the default slot value: no results, no next page.
func EmptyPage() *SearchPage {
	return &SearchPage{Results: []SearchItem{}}
}

// Episode is one playable unit of a content entry.
type Episode struct {
	Number float64 `json:"number"`
	Title  string  `json:"title,omitempty"`
	URL    string  `json:"url"`
}

// Detail is the result of getDetail.
type Detail struct {
	Title     string    `json:"title"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	BannerURL string    `json:"bannerUrl,omitempty"`
	Synopsis  string    `json:"synopsis,omitempty"`
	Genres    []string  `json:"genres"`
	Status    string    `json:"status,omitempty"`
	Episodes  []Episode `json:"episodes"`
}

// Source is one playable stream.
type Source struct {
	URL     string            `json:"url"`
	Quality string            `json:"quality"`
	Type    string            `json:"type"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Subtitle is one subtitle track.
type Subtitle struct {
	URL  string `json:"url"`
	Lang string `json:"lang"`
	Type string `json:"type"`
}

// SourceBundle is the result of getPlayableSources.
type SourceBundle struct {
	Sources   []Source   `json:"sources"`
	Subtitles []Subtitle `json:"subtitles"`
}

// DecodeSearchPage decodes a guest-produced search page, normalizing a
// missing results array to an empty slice.
func DecodeSearchPage(data []byte) (*SearchPage, error) {
	var page SearchPage
	if err := sonic.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("malformed search page: %w", err)
	}
	if page.Results == nil {
		page.Results = []SearchItem{}
	}
	return &page, nil
}

// DecodeDetail decodes a guest-produced detail record.
func DecodeDetail(data []byte) (*Detail, error) {
	var d Detail
	if err := sonic.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed detail: %w", err)
	}
	if d.Genres == nil {
		d.Genres = []string{}
	}
	if d.Episodes == nil {
		d.Episodes = []Episode{}
	}
	return &d, nil
}

// DecodeSourceBundle decodes a guest-produced source list.
func DecodeSourceBundle(data []byte) (*SourceBundle, error) {
	var b SourceBundle
	if err := sonic.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("malformed source bundle: %w", err)
	}
	if b.Sources == nil {
		b.Sources = []Source{}
	}
	if b.Subtitles == nil {
		b.Subtitles = []Subtitle{}
	}
	return &b, nil
}
