package stream

import "strings"

// platformURLs maps known destination platforms to their RTMP ingest base.
var platformURLs = map[string]string{
	"youtube":   "rtmp://a.rtmp.youtube.com/live2/",
	"facebook":  "rtmps://live-api-s.facebook.com:443/rtmp/",
	"twitch":    "rtmp://live.twitch.tv/app/",
	"instagram": "rtmp://live-upload.instagram.com/rtmp/",
	"tiktok":    "rtmp://push.live.tiktok.com/live/",
}

// IngestURL builds the full RTMP ingest URL for a platform and stream key.
// Unknown platforms are treated as a custom ingest base supplied by the caller.
func IngestURL(platform, streamKey string) string {
	base, ok := platformURLs[strings.ToLower(platform)]
	if !ok {
		base = platform
	}
	return base + streamKey
}
