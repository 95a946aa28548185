package streams

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Variant is one #EXT-X-STREAM-INF entry in a master playlist.
type Variant struct {
	URI       string
	Bandwidth int64
}

// MediaEntry is one #EXT-X-MEDIA rendition entry.
type MediaEntry struct {
	Type string
	URI  string
}

// Segment is one #EXTINF media segment.
type Segment struct {
	URI      string
	Duration float64
}

// Playlist holds the parts of an HLS playlist the pipeline consumes.
type Playlist struct {
	Variants []Variant
	Media    []MediaEntry
	Segments []Segment
}

// IsMaster reports whether the playlist references other playlists rather
// than segments.
func (p *Playlist) IsMaster() bool {
	return len(p.Segments) == 0 && (len(p.Variants) > 0 || len(p.Media) > 0)
}

// AudioPlaylistURL selects the nested playlist to fetch for audio: a
// dedicated AUDIO rendition when present, otherwise the last listed
// variant.
func (p *Playlist) AudioPlaylistURL() (string, bool) {
	for _, media := range p.Media {
		if strings.EqualFold(media.Type, "AUDIO") && media.URI != "" {
			return media.URI, true
		}
	}
	if len(p.Variants) > 0 {
		return p.Variants[len(p.Variants)-1].URI, true
	}
	return "", false
}

// ParsePlaylist parses HLS playlist text, resolving URIs against base.
func ParsePlaylist(text string, base *url.URL) (*Playlist, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "#EXTM3U") {
		return nil, fmt.Errorf("not an HLS playlist")
	}

	playlist := &Playlist{}
	var (
		pendingVariant  *Variant
		pendingDuration float64
		havePending     bool
	)

	for _, raw := range lines[1:] {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			variant := Variant{}
			if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
				variant.Bandwidth = bw
			}
			pendingVariant = &variant

		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			if uri := attrs["URI"]; uri != "" {
				playlist.Media = append(playlist.Media, MediaEntry{
					Type: attrs["TYPE"],
					URI:  resolveURI(base, uri),
				})
			}

		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if comma := strings.Index(value, ","); comma >= 0 {
				value = value[:comma]
			}
			pendingDuration, _ = strconv.ParseFloat(strings.TrimSpace(value), 64)
			havePending = true

		case strings.HasPrefix(line, "#"):
			// Other tags carry no URIs the pipeline needs.

		default:
			uri := resolveURI(base, line)
			if pendingVariant != nil {
				pendingVariant.URI = uri
				playlist.Variants = append(playlist.Variants, *pendingVariant)
				pendingVariant = nil
			} else if havePending {
				playlist.Segments = append(playlist.Segments, Segment{URI: uri, Duration: pendingDuration})
				havePending = false
			}
		}
	}

	return playlist, nil
}

// parseAttributes splits an HLS attribute list, honoring quoted values that
// contain commas.
func parseAttributes(list string) map[string]string {
	attrs := make(map[string]string)
	var (
		key      strings.Builder
		value    strings.Builder
		inValue  bool
		inQuotes bool
	)
	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			attrs[k] = value.String()
		}
		key.Reset()
		value.Reset()
		inValue = false
	}
	for _, r := range list {
		switch {
		case r == '"' && inValue:
			inQuotes = !inQuotes
		case r == '=' && !inValue:
			inValue = true
		case r == ',' && !inQuotes:
			flush()
		case inValue:
			value.WriteRune(r)
		default:
			key.WriteRune(r)
		}
	}
	flush()
	return attrs
}

func resolveURI(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
