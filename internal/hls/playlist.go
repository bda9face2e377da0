// Package hls fetches and parses HLS playlists and downloads media segments
// with per-request timing. It is the only package that talks to the stream
// origin; everything above it works with parsed renditions, segment URLs,
// and timed fetch results.
package hls

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Rendition is one bitrate/resolution variant referenced from a master
// playlist.
type Rendition struct {
	URI        string // absolute URL
	Bandwidth  int
	Resolution string // "1920x1080", empty when not declared
}

var (
	bandwidthRe  = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	resolutionRe = regexp.MustCompile(`RESOLUTION=(\d+x\d+)`)
)

// ParseManifest extracts renditions and segment URLs from playlist text.
// Relative URIs are resolved against baseURL; manifest order is preserved.
// A master playlist yields renditions and no segments; a media playlist
// yields segments and no renditions.
func ParseManifest(content, baseURL string) (renditions []Rendition, segments []string) {
	lines := strings.Split(content, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			r := parseStreamInf(line)
			if uri, ok := uriAfter(lines, i); ok {
				r.URI = resolveURL(baseURL, uri)
				renditions = append(renditions, r)
				i++
			}

		case strings.HasPrefix(line, "#EXTINF:"):
			if uri, ok := uriAfter(lines, i); ok {
				segments = append(segments, resolveURL(baseURL, uri))
				i++
			}
		}
	}

	return renditions, segments
}

// IsMaster reports whether a parse result describes a master playlist:
// renditions present but no segments. Callers should drill down to a
// rendition before segment discovery.
func IsMaster(renditions []Rendition, segments []string) bool {
	return len(segments) == 0 && len(renditions) > 0
}

// HighestBandwidth returns the rendition with the largest declared
// bandwidth, or false when the slice is empty.
func HighestBandwidth(renditions []Rendition) (Rendition, bool) {
	if len(renditions) == 0 {
		return Rendition{}, false
	}
	best := renditions[0]
	for _, r := range renditions[1:] {
		if r.Bandwidth > best.Bandwidth {
			best = r
		}
	}
	return best, true
}

// parseStreamInf extracts BANDWIDTH and RESOLUTION attributes from an
// #EXT-X-STREAM-INF line.
func parseStreamInf(line string) Rendition {
	var r Rendition
	if m := bandwidthRe.FindStringSubmatch(line); m != nil {
		r.Bandwidth, _ = strconv.Atoi(m[1])
	}
	if m := resolutionRe.FindStringSubmatch(line); m != nil {
		r.Resolution = m[1]
	}
	return r
}

// uriAfter returns the next non-tag line after index i, which by the HLS
// format is the URI belonging to the preceding tag.
func uriAfter(lines []string, i int) (string, bool) {
	if i+1 >= len(lines) {
		return "", false
	}
	uri := strings.TrimSpace(lines[i+1])
	if uri == "" || strings.HasPrefix(uri, "#") {
		return "", false
	}
	return uri, true
}

// resolveURL resolves a possibly-relative reference against base. On parse
// failure the reference is returned as-is; the fetch will fail and be
// recorded like any other transport error.
func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
