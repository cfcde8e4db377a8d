package queue

import (
	"encoding/json"
	"time"

	"QueueFM/model"
)

// EventType 事件类型
type EventType string

const (
	EventTrackEnqueued     EventType = "track_enqueued"
	EventTrackEnqueuedTop  EventType = "track_enqueued_top"
	EventPlaylistStart     EventType = "playlist_start"
	EventPlaylistProgress  EventType = "playlist_progress"
	EventPlaylistEnd       EventType = "playlist_end"
	EventBacklogAdded      EventType = "backlog_added"
	EventPlaying           EventType = "playing"
	EventPaused            EventType = "paused"
	EventStartedLooping    EventType = "started_looping"
	EventStoppedLooping    EventType = "stopped_looping"
	EventStateAlreadySet   EventType = "state_already_set"
	EventTracksSkipped     EventType = "tracks_skipped"
	EventTracksRemoved     EventType = "tracks_removed"
	EventDuplicatesRemoved EventType = "duplicates_removed"
	EventUserPurged        EventType = "user_purged"
	EventQueueCleared      EventType = "queue_cleared"
	EventQueueShuffled     EventType = "queue_shuffled"
	EventVolumeChanged     EventType = "volume_changed"
	EventNowPlaying        EventType = "now_playing"
	EventCurrentQueue      EventType = "current_queue"
	EventError             EventType = "error"
)

// Event 发给调用方的结果事件，只有与 Type 对应的字段有值
type Event struct {
	Type     EventType          `json:"type"`
	Track    *model.TrackMin    `json:"track,omitempty"`
	ETA      time.Duration      `json:"-"` // JSON 中为 eta_ms
	Playlist *model.PlaylistMin `json:"playlist,omitempty"`
	Source   string             `json:"source,omitempty"`
	Count    *int               `json:"count,omitempty"`
	Volume   *float64           `json:"volume,omitempty"`
	Items    []model.QueueItem  `json:"items,omitempty"`
	Kind     string             `json:"kind,omitempty"`
	Message  string             `json:"message,omitempty"`

	err error
}

func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	var eta *int64
	if e.ETA > 0 {
		ms := e.ETA.Milliseconds()
		eta = &ms
	}
	return json.Marshal(struct {
		plain
		ETAMs *int64 `json:"eta_ms,omitempty"`
	}{plain(e), eta})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	aux := struct {
		*plain
		ETAMs int64 `json:"eta_ms"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.ETA = time.Duration(aux.ETAMs) * time.Millisecond
	return nil
}

// Err 错误事件携带的错误
func (e Event) Err() error {
	return e.err
}

func trackEvent(t EventType, track model.TrackMin) Event {
	return Event{Type: t, Track: &track}
}

func countEvent(t EventType, n int) Event {
	return Event{Type: t, Count: &n}
}

func volumeEvent(v float64) Event {
	return Event{Type: EventVolumeChanged, Volume: &v}
}

func errorEvent(err *QueueError) Event {
	return Event{Type: EventError, Kind: KindName(err), Message: err.Message, err: err}
}

// Collect 读完事件流，调用方不关心流式结果时使用
func Collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

// FirstError 返回事件中的第一个错误
func FirstError(events []Event) error {
	for _, ev := range events {
		if ev.Type == EventError {
			return ev.err
		}
	}
	return nil
}
