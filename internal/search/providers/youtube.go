package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/web-research-pipeline/internal/research"
)

// YouTube searches videos and reports their engagement counters.
type YouTube struct {
	base
}

var _ research.VideoSearcher = (*YouTube)(nil)

// NewYouTube builds the YouTube Data API adapter.
func NewYouTube(opts Options) *YouTube {
	return &YouTube{base: newBase("youtube", "https://www.googleapis.com/youtube/v3", opts)}
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type youtubeVideosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// SearchVideos implements research.VideoSearcher. One credential rotation
// covers both the search and the statistics lookup.
func (y *YouTube) SearchVideos(ctx context.Context, query string, limit int, locale research.Locale) ([]research.ViralCandidate, error) {
	key, err := y.secret()
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit, 50)

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", query)
	params.Set("type", "video")
	params.Set("order", "relevance")
	params.Set("maxResults", strconv.Itoa(limit))
	params.Set("key", key)
	if country := strings.ToUpper(strings.TrimSpace(locale.Country)); country != "" {
		params.Set("regionCode", country)
	}
	if lang := lower(locale.Language); lang != "" {
		params.Set("relevanceLanguage", lang)
	}
	searchURL := y.endpoint + "/search?" + params.Encode()

	var found youtubeSearchResponse
	if err := y.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodGet, searchURL, nil)
	}, &found); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(found.Items))
	for _, item := range found.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	stats := url.Values{}
	stats.Set("part", "statistics,snippet")
	stats.Set("id", strings.Join(ids, ","))
	stats.Set("key", key)
	statsURL := y.endpoint + "/videos?" + stats.Encode()

	var videos youtubeVideosResponse
	if err := y.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return jsonRequest(ctx, http.MethodGet, statsURL, nil)
	}, &videos); err != nil {
		return nil, err
	}

	out := make([]research.ViralCandidate, 0, len(videos.Items))
	for _, v := range videos.Items {
		out = append(out, research.ViralCandidate{
			Platform: "youtube",
			URL:      "https://www.youtube.com/watch?v=" + v.ID,
			Title:    strings.TrimSpace(v.Snippet.Title),
			Metrics: research.EngagementMetrics{
				Views:    parseCount(v.Statistics.ViewCount),
				Likes:    parseCount(v.Statistics.LikeCount),
				Comments: parseCount(v.Statistics.CommentCount),
			},
		})
	}
	return out, nil
}

func parseCount(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
