package streams

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hananf11/echo360/internal/services"
)

// Kind distinguishes the two retrieval protocols.
type Kind string

const (
	KindDirect   Kind = "direct"
	KindManifest Kind = "manifest"
)

// Source is the resolved retrieval plan for one lecture.
type Source struct {
	Kind           Kind   `json:"kind"`
	URL            string `json:"url"`
	HasVideo       bool   `json:"has_video"`
	AvailableVideo bool   `json:"available_video"`
	// VideoManifestURL is set when a separate video manifest exists for
	// frame extraction.
	VideoManifestURL string `json:"video_manifest_url,omitempty"`
}

// MediaInfo mirrors the fields of the player media payload the resolver
// cares about.
type MediaInfo struct {
	MediaID           string `json:"mediaId"`
	HasVideo          bool   `json:"hasVideo"`
	HasAvailableVideo bool   `json:"hasAvailableVideo"`
	PrimaryFiles      []struct {
		S3URL string `json:"s3Url"`
		Size  int64  `json:"size"`
	} `json:"primaryFiles"`
	AudioManifests []struct {
		URI string `json:"uri"`
	} `json:"audioManifests"`
	VideoManifests []struct {
		URI string `json:"uri"`
	} `json:"videoManifests"`
}

// ParseMediaInfo decodes the player media payload.
func ParseMediaInfo(data []byte) (*MediaInfo, error) {
	var info MediaInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode media info: %w", err)
	}
	return &info, nil
}

// Resolve maps a media description onto a retrieval plan. Direct primary
// files win over manifests and are usable regardless of the video flags;
// the manifest path only serves processed captures, which the player marks
// with both hasVideo and hasAvailableVideo. pageURL anchors manifest host
// rewriting.
func Resolve(info *MediaInfo, pageURL string) (*Source, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: empty media info", services.ErrNoMedia)
	}

	source := &Source{
		HasVideo:       info.HasVideo,
		AvailableVideo: info.HasAvailableVideo,
	}
	if len(info.VideoManifests) > 0 && info.HasAvailableVideo {
		if rewritten, err := RewriteManifestHost(info.VideoManifests[0].URI, pageURL); err == nil {
			source.VideoManifestURL = rewritten
		}
	}

	for _, file := range info.PrimaryFiles {
		if strings.TrimSpace(file.S3URL) != "" {
			source.Kind = KindDirect
			source.URL = file.S3URL
			return source, nil
		}
	}

	if info.HasVideo && info.HasAvailableVideo {
		for _, manifest := range info.AudioManifests {
			if strings.TrimSpace(manifest.URI) == "" {
				continue
			}
			rewritten, err := RewriteManifestHost(manifest.URI, pageURL)
			if err != nil {
				return nil, err
			}
			source.Kind = KindManifest
			source.URL = rewritten
			return source, nil
		}
	}

	return nil, fmt.Errorf("%w: no primary file or audio manifest", services.ErrNoMedia)
}

// RewriteManifestHost points a manifest URI at the content host that serves
// playlists for the institution's player origin.
func RewriteManifestHost(manifestURI, pageURL string) (string, error) {
	manifest, err := url.Parse(manifestURI)
	if err != nil {
		return "", fmt.Errorf("parse manifest uri: %w", err)
	}
	page, err := url.Parse(pageURL)
	if err != nil || page.Host == "" {
		return "", fmt.Errorf("parse page url %q: %w", pageURL, err)
	}

	host := page.Host
	if !strings.HasPrefix(host, "content.") {
		host = "content." + host
	}
	manifest.Scheme = "https"
	manifest.Host = host
	return manifest.String(), nil
}
