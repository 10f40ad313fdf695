package sources

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"
)

// PlatformAudio is the audio payload resolved from a video-platform page.
type PlatformAudio struct {
	Title           string
	Data            []byte
	Filename        string
	DurationSeconds int
	Thumbnail       string
}

// PlatformResolver downloads the audio track behind supported
// video-platform URLs.
type PlatformResolver struct {
	client ytdl.Client
}

// NewPlatformResolver creates a platform resolver.
func NewPlatformResolver() *PlatformResolver {
	return &PlatformResolver{client: ytdl.Client{}}
}

// IsPlatformURL reports whether the URL points at a supported video
// platform rather than a directly downloadable file.
func IsPlatformURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "youtube.com/") || strings.Contains(lower, "youtu.be/")
}

// Resolve fetches video metadata and downloads the highest bitrate
// audio-only stream.
func (r *PlatformResolver) Resolve(ctx context.Context, rawURL string) (*PlatformAudio, error) {
	video, err := r.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("resolve platform video: %w", err)
	}

	var formats []ytdl.Format
	for _, f := range video.Formats {
		if strings.HasPrefix(f.MimeType, "audio/") {
			formats = append(formats, f)
		}
	}
	if len(formats) == 0 {
		return nil, fmt.Errorf("no audio stream available for %s", rawURL)
	}
	sort.Slice(formats, func(i, j int) bool {
		return formats[i].Bitrate > formats[j].Bitrate
	})

	stream, _, err := r.client.GetStreamContext(ctx, video, &formats[0])
	if err != nil {
		return nil, fmt.Errorf("open audio stream: %w", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("download audio stream: %w", err)
	}

	out := &PlatformAudio{
		Title:           video.Title,
		Data:            data,
		Filename:        "audio" + extensionForMime(formats[0].MimeType),
		DurationSeconds: int(video.Duration.Seconds()),
	}
	if len(video.Thumbnails) > 0 {
		out.Thumbnail = video.Thumbnails[0].URL
	}
	return out, nil
}

func extensionForMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return ".m4a"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	default:
		return ".audio"
	}
}
