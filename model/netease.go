package model

// NeteaseAlbum 网易云音乐专辑信息
type NeteaseAlbum struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	PicURL string `json:"picUrl"`
}

// NeteaseArtist 网易云音乐艺术家信息
type NeteaseArtist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NeteaseSong 网易云音乐歌曲信息（/song/detail 与 /playlist/track/all 返回格式）
type NeteaseSong struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Artists  []NeteaseArtist `json:"ar"`
	Album    NeteaseAlbum    `json:"al"`
	Duration int64           `json:"dt"` // 时长（毫秒）
}

// NeteaseUser 网易云用户（歌单创建者）
type NeteaseUser struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
}

// NeteasePlaylist 歌单信息
type NeteasePlaylist struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	CoverURL    string      `json:"coverImgUrl"`
	TrackCount  int         `json:"trackCount"`
	PlayCount   uint64      `json:"playCount"`
	Privacy     int         `json:"privacy"` // 10 = 隐私歌单
	Creator     NeteaseUser `json:"creator"`
}
