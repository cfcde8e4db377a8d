package extractor

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"QueueFM/logger"
	"QueueFM/model"
)

// Direct 直链提取器：http(s) 媒体地址，歌单为 m3u / m3u8 文件
type Direct struct {
	httpClient *http.Client
}

// NewDirect 创建直链提取器
func NewDirect() *Direct {
	return &Direct{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (d *Direct) Name() string { return "direct" }

func parseMediaURL(source string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, unsupported(source)
	}
	return u, nil
}

// titleFromURL 取路径最后一段并去掉扩展名
func titleFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Resolve 直链不发请求，标题取自 URL
func (d *Direct) Resolve(ctx context.Context, source string) (*Media, error) {
	u, err := parseMediaURL(source)
	if err != nil {
		return nil, err
	}
	return &Media{
		Source: u.String(),
		Metadata: model.ExtractedMetadata{
			Title:    titleFromURL(u),
			Uploader: u.Hostname(),
		},
	}, nil
}

type m3uEntry struct {
	location string
	duration time.Duration
	artist   string
	title    string
}

// parseExtInf 解析 "#EXTINF:<秒>,<艺术家> - <标题>"
func parseExtInf(line string) m3uEntry {
	var e m3uEntry
	info := strings.TrimPrefix(line, "#EXTINF:")
	secs, display, _ := strings.Cut(info, ",")
	// 时长后可能带属性: #EXTINF:123 tvg-id="x",Title
	secs, _, _ = strings.Cut(secs, " ")
	if f, err := strconv.ParseFloat(strings.TrimSpace(secs), 64); err == nil && f > 0 {
		e.duration = time.Duration(f * float64(time.Second))
	}
	display = strings.TrimSpace(display)
	if artist, title, ok := strings.Cut(display, " - "); ok {
		e.artist, e.title = strings.TrimSpace(artist), strings.TrimSpace(title)
	} else {
		e.title = display
	}
	return e
}

func (d *Direct) fetchM3U(ctx context.Context, u *url.URL) ([]m3uEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var (
		entries []m3uEntry
		pending m3uEntry
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			pending = parseExtInf(line)
		case strings.HasPrefix(line, "#"):
		default:
			pending.location = line
			entries = append(entries, pending)
			pending = m3uEntry{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ResolvePlaylist 下载并解析 m3u 歌单，相对地址按歌单地址补全
func (d *Direct) ResolvePlaylist(ctx context.Context, id string) (*Playlist, error) {
	u, err := parseMediaURL(id)
	if err != nil {
		return nil, err
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != ".m3u" && ext != ".m3u8" {
		return nil, unsupported(id)
	}

	entries, err := d.fetchM3U(ctx, u)
	if err != nil {
		logger.Warn("[Direct] 获取歌单失败", logger.String("url", id), logger.ErrorField(err))
		return nil, failed(id, err)
	}

	members := func(yield func(*Media, error) bool) {
		for _, e := range entries {
			ref, err := url.Parse(e.location)
			if err != nil {
				if !yield(nil, failed(e.location, err)) {
					return
				}
				continue
			}
			loc := u.ResolveReference(ref)
			if loc.Scheme != "http" && loc.Scheme != "https" {
				if !yield(nil, unsupported(e.location)) {
					return
				}
				continue
			}
			meta := model.ExtractedMetadata{
				Title:    e.title,
				Uploader: e.artist,
				Duration: e.duration,
			}
			if meta.Title == "" {
				meta.Title = titleFromURL(loc)
			}
			if meta.Uploader == "" {
				meta.Uploader = loc.Hostname()
			}
			if !yield(&Media{Source: loc.String(), Metadata: meta}, nil) {
				return
			}
		}
	}

	return &Playlist{
		Info: model.PlaylistMin{
			Title:      titleFromURL(u),
			Uploader:   u.Hostname(),
			VideoCount: len(entries),
		},
		Members: members,
	}, nil
}
