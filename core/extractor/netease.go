package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"QueueFM/logger"
	"QueueFM/model"
)

const neteasePrefix = "netease:"

var neteaseIDPattern = regexp.MustCompile(`^\d+$`)

// Netease 基于 NeteaseCloudMusicApi 的提取器
type Netease struct {
	baseURL    string
	httpClient *http.Client
}

// NewNetease 创建网易云提取器
func NewNetease(baseURL string) *Netease {
	return &Netease{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// SetTimeout 设置请求超时时间
func (n *Netease) SetTimeout(timeout time.Duration) {
	n.httpClient.Timeout = timeout
}

func (n *Netease) Name() string { return "netease" }

// ParseNeteaseID 从数字 ID、netease:<id> 或 music.163.com 链接中取出 ID
func ParseNeteaseID(source string) (string, bool) {
	source = strings.TrimSpace(source)
	if neteaseIDPattern.MatchString(source) {
		return source, true
	}
	if id, ok := strings.CutPrefix(source, neteasePrefix); ok && neteaseIDPattern.MatchString(id) {
		return id, true
	}
	u, err := url.Parse(source)
	if err != nil || !strings.HasSuffix(u.Hostname(), "music.163.com") {
		return "", false
	}
	// 形如 https://music.163.com/#/song?id=123，查询串可能在 fragment 中
	query := u.RawQuery
	if _, frag, ok := strings.Cut(u.Fragment, "?"); ok {
		query = frag
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", false
	}
	id := values.Get("id")
	if !neteaseIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

func (n *Netease) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s%s?%s", n.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func songMedia(song model.NeteaseSong) (*Media, error) {
	if song.ID == 0 || song.Name == "" {
		return nil, errors.New("song unavailable")
	}
	artists := make([]string, 0, len(song.Artists))
	for _, a := range song.Artists {
		artists = append(artists, a.Name)
	}
	return &Media{
		Source: fmt.Sprintf("%s%d", neteasePrefix, song.ID),
		Metadata: model.ExtractedMetadata{
			Title:     song.Name,
			Uploader:  strings.Join(artists, " / "),
			Duration:  time.Duration(song.Duration) * time.Millisecond,
			Thumbnail: song.Album.PicURL,
		},
	}, nil
}

// Resolve 获取歌曲详情
func (n *Netease) Resolve(ctx context.Context, source string) (*Media, error) {
	id, ok := ParseNeteaseID(source)
	if !ok {
		return nil, unsupported(source)
	}

	var result struct {
		Songs []model.NeteaseSong `json:"songs"`
		Code  int                 `json:"code"`
	}
	if err := n.get(ctx, "/song/detail", url.Values{"ids": {id}}, &result); err != nil {
		logger.Warn("[Netease] 获取歌曲详情失败", logger.String("song_id", id), logger.ErrorField(err))
		return nil, failed(source, err)
	}
	if result.Code != http.StatusOK || len(result.Songs) == 0 {
		return nil, failed(source, fmt.Errorf("未找到歌曲 (code %d)", result.Code))
	}
	media, err := songMedia(result.Songs[0])
	if err != nil {
		return nil, failed(source, err)
	}
	return media, nil
}

// ResolvePlaylist 获取歌单详情，成员在迭代时才请求
func (n *Netease) ResolvePlaylist(ctx context.Context, id string) (*Playlist, error) {
	playlistID, ok := ParseNeteaseID(id)
	if !ok {
		return nil, unsupported(id)
	}

	var detail struct {
		Playlist model.NeteasePlaylist `json:"playlist"`
		Code     int                   `json:"code"`
	}
	if err := n.get(ctx, "/playlist/detail", url.Values{"id": {playlistID}}, &detail); err != nil {
		logger.Warn("[Netease] 获取歌单详情失败", logger.String("playlist_id", playlistID), logger.ErrorField(err))
		return nil, failed(id, err)
	}
	if detail.Code != http.StatusOK {
		return nil, failed(id, fmt.Errorf("未找到歌单 (code %d)", detail.Code))
	}
	pl := detail.Playlist
	logger.Info("[Netease] 成功获取歌单详情", logger.String("playlist_id", playlistID), logger.String("name", pl.Name))

	members := func(yield func(*Media, error) bool) {
		var tracks struct {
			Songs []model.NeteaseSong `json:"songs"`
			Code  int                 `json:"code"`
		}
		if err := n.get(ctx, "/playlist/track/all", url.Values{"id": {playlistID}}, &tracks); err != nil {
			yield(nil, failed(id, err))
			return
		}
		for _, song := range tracks.Songs {
			media, err := songMedia(song)
			if err != nil {
				err = failed(fmt.Sprintf("%s%d", neteasePrefix, song.ID), err)
			}
			if !yield(media, err) {
				return
			}
		}
	}

	return &Playlist{
		Info: model.PlaylistMin{
			Title:       pl.Name,
			Description: pl.Description,
			Uploader:    pl.Creator.Nickname,
			Unlisted:    pl.Privacy == 10,
			Views:       pl.PlayCount,
			VideoCount:  pl.TrackCount,
		},
		Members: members,
	}, nil
}
