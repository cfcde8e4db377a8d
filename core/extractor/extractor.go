package extractor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"QueueFM/model"
)

var (
	// ErrExtractionFailed 来源无法解析
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrUnsupportedSource 提取器不支持该来源
	ErrUnsupportedSource = errors.New("unsupported source")
)

// Media 解析后的单个媒体
type Media struct {
	// Source 交给播放驱动的规范化来源
	Source   string
	Metadata model.ExtractedMetadata
}

// Playlist 歌单，成员按需逐个解析
type Playlist struct {
	Info    model.PlaylistMin
	Members iter.Seq2[*Media, error]
}

// Extractor 元数据提取器
// 解析只用于展示和缓存字段，调用方可以在队列之外并发调用
type Extractor interface {
	// Name 提取器标识，对应配置 EXTRACTOR
	Name() string
	Resolve(ctx context.Context, source string) (*Media, error)
	ResolvePlaylist(ctx context.Context, id string) (*Playlist, error)
}

// Registry 提取器注册表
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry 创建注册表
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// Register 注册提取器，同名覆盖
func (r *Registry) Register(e Extractor) {
	r.extractors[e.Name()] = e
}

// Get 获取指定名称的提取器
func (r *Registry) Get(name string) (Extractor, error) {
	e, ok := r.extractors[name]
	if !ok {
		return nil, fmt.Errorf("unknown extractor %q (available: %v)", name, r.Names())
	}
	return e, nil
}

// Names 已注册的提取器名称
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func failed(source string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExtractionFailed, source, err)
}

func unsupported(source string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
}
