package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mediafetch/backend/internal/media"
)

func getTestRedisURL() string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6380"
	}
	return url
}

func TestKey(t *testing.T) {
	a := Key(media.ProviderYouTube, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	b := Key(media.ProviderYouTube, "https://www.youtube.com/watch?v=aaaaaaaaaaa")
	c := Key(media.ProviderTikTok, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")

	if a == b || a == c {
		t.Error("keys should differ by URL and provider")
	}
	if !strings.HasPrefix(a, keyPrefix+"youtube:") {
		t.Errorf("unexpected key %q", a)
	}
}

func TestCache_ResultRoundTrip(t *testing.T) {
	c, err := New(getTestRedisURL())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	key := Key(media.ProviderYouTube, "test-"+time.Now().Format(time.RFC3339Nano))

	video := media.Result{Success: true, Method: "youtube-ytdlp", Info: &media.MediaInfo{
		Title:   "video",
		Formats: []media.Format{{FormatID: "18", VideoCodec: "avc1", AudioCodec: "mp4a"}},
	}}
	if err := c.SetResult(ctx, key, video, time.Minute); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	got, ok := c.GetResult(ctx, key)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.Method != "youtube-ytdlp" || got.Info.Formats[0].FormatID != "18" {
		t.Errorf("unexpected cached result %+v", got)
	}
}

func TestCache_SkipsWeakResults(t *testing.T) {
	c, err := New(getTestRedisURL())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	key := Key(media.ProviderYouTube, "weak-"+time.Now().Format(time.RFC3339Nano))

	audio := media.Result{Success: true, Info: &media.MediaInfo{
		Title:   "audio",
		Formats: []media.Format{{FormatID: "140", VideoCodec: media.CodecNone, AudioCodec: "mp4a"}},
	}}
	if err := c.SetResult(ctx, key, audio, time.Minute); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if _, ok := c.GetResult(ctx, key); ok {
		t.Error("audio-only results must not be cached")
	}
}
