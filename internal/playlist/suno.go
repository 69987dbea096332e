// Package playlist imports music assets from Suno playlists.
package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nwestra/loopmix/internal/assets"
	"github.com/nwestra/loopmix/internal/logger"
)

const defaultBaseURL = "https://studio-api.prod.suno.com/api/playlist"

// maxPages bounds pagination on malformed or enormous playlists.
const maxPages = 100

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrInvalidPlaylistURL is returned when no playlist ID can be extracted.
var ErrInvalidPlaylistURL = errors.New("invalid playlist URL")

// AssetSink receives downloaded tracks. Implemented by jobs.Manager.
type AssetSink interface {
	AddAsset(jobID int64, class assets.Class, filename string, src io.Reader) (*assets.Record, error)
}

// Result reports what an import achieved. A partially failed import is not
// an error: downloaded tracks stay, failures are listed.
type Result struct {
	Downloaded []string `json:"downloaded"`
	Errors     []string `json:"errors"`
}

// Importer fetches playlist metadata and streams tracks into a job's
// music assets.
type Importer struct {
	client  *http.Client
	baseURL string
}

// NewImporter creates an Importer with sensible timeouts.
func NewImporter() *Importer {
	return &Importer{
		client:  &http.Client{Timeout: 2 * time.Minute},
		baseURL: defaultBaseURL,
	}
}

// NewImporterWithBase creates an Importer against a custom API base URL.
func NewImporterWithBase(client *http.Client, baseURL string) *Importer {
	return &Importer{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

var playlistIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/playlists/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/playlist/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`\?id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`suno\.com/([a-zA-Z0-9_-]{10,})`),
}

var bareIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ExtractPlaylistID pulls the playlist ID out of the URL shapes Suno uses.
// A bare ID of at least 10 characters is accepted as-is.
func ExtractPlaylistID(url string) (string, error) {
	for _, p := range playlistIDPatterns {
		if m := p.FindStringSubmatch(url); m != nil {
			return m[1], nil
		}
	}

	cleaned := strings.TrimSpace(url)
	if i := strings.LastIndex(cleaned, "/"); i >= 0 {
		cleaned = cleaned[i+1:]
	}
	cleaned, _, _ = strings.Cut(cleaned, "?")
	if len(cleaned) >= 10 && bareIDPattern.MatchString(cleaned) {
		return cleaned, nil
	}

	return "", fmt.Errorf("%w: %s", ErrInvalidPlaylistURL, url)
}

type playlistPage struct {
	Clips []clipItem `json:"playlist_clips"`
}

type clipItem struct {
	Clip clipData `json:"clip"`
}

type clipData struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	AudioURL string `json:"audio_url"`
}

// Import downloads every track of the playlist into the job's music
// assets through the sink. The job must be in a state that accepts asset
// uploads; per-track sink errors are collected, not fatal.
func (im *Importer) Import(ctx context.Context, jobID int64, playlistURL string, sink AssetSink) (*Result, error) {
	id, err := ExtractPlaylistID(playlistURL)
	if err != nil {
		return nil, err
	}

	clips, err := im.fetchAllClips(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("no songs found in playlist %s", id)
	}

	logger.Info("Playlist import started", "job_id", jobID, "playlist", id, "tracks", len(clips))

	res := &Result{}
	for i, clip := range clips {
		filename := trackFilename(clip, i)
		if err := im.downloadTrack(ctx, jobID, clip, filename, sink); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", filename, err))
			logger.Warn("Track download failed", "job_id", jobID, "track", filename, "error", err)
			continue
		}
		res.Downloaded = append(res.Downloaded, filename)
	}

	logger.Info("Playlist import finished", "job_id", jobID,
		"downloaded", len(res.Downloaded), "failed", len(res.Errors))
	return res, nil
}

// fetchAllClips pages through the playlist, deduplicating by clip ID.
// A failure on the first page is fatal; a failure on a later page is
// treated as the end of the playlist.
func (im *Importer) fetchAllClips(ctx context.Context, playlistID string) ([]clipData, error) {
	var clips []clipData
	seen := make(map[string]struct{})

	for page := 0; page <= maxPages; page++ {
		pageData, err := im.fetchPage(ctx, playlistID, page)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("fetch playlist %s: %w", playlistID, err)
			}
			break
		}
		if len(pageData.Clips) == 0 {
			break
		}

		for _, item := range pageData.Clips {
			c := item.Clip
			if c.ID == "" || c.AudioURL == "" {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			clips = append(clips, c)
		}
	}

	return clips, nil
}

func (im *Importer) fetchPage(ctx context.Context, playlistID string, page int) (*playlistPage, error) {
	url := fmt.Sprintf("%s/%s/", im.baseURL, playlistID)
	if page > 0 {
		url += "?page=" + strconv.Itoa(page)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://suno.com/")

	resp, err := im.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var pd playlistPage
	if err := json.NewDecoder(resp.Body).Decode(&pd); err != nil {
		return nil, fmt.Errorf("decode playlist page: %w", err)
	}
	return &pd, nil
}

// downloadTrack streams one track straight into the sink without
// buffering the whole file.
func (im *Importer) downloadTrack(ctx context.Context, jobID int64, clip clipData, filename string, sink AssetSink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clip.AudioURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://suno.com/")

	resp, err := im.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed (HTTP %d)", resp.StatusCode)
	}

	_, err = sink.AddAsset(jobID, assets.ClassMusic, filename, resp.Body)
	return err
}

var (
	titleStrip    = regexp.MustCompile(`[^\w\s-]`)
	titleCollapse = regexp.MustCompile(`[-\s]+`)
)

// trackFilename derives a stable music filename from a clip's title and
// ID, falling back to a numbered placeholder for untitled tracks.
func trackFilename(clip clipData, index int) string {
	title := titleStrip.ReplaceAllString(strings.TrimSpace(clip.Title), "")
	title = strings.Trim(titleCollapse.ReplaceAllString(title, "-"), "-")
	if title == "" {
		title = fmt.Sprintf("Untitled-Song-%d", index+1)
	}

	if clip.ID != "" {
		id := clip.ID
		if len(id) > 8 {
			id = id[:8]
		}
		return fmt.Sprintf("%s_%s.mp3", title, id)
	}
	return title + ".mp3"
}
