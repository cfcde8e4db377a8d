package queue

import (
	"hash/fnv"

	"QueueFM/core/playback"
	"QueueFM/model"
)

const (
	unknownListenerName   = "Unknown"
	unknownListenerColour = "#000000"
)

var rosterPalette = []string{
	"#1abc9c", "#2ecc71", "#3498db", "#9b59b6", "#e91e63",
	"#f1c40f", "#e67e22", "#e74c3c", "#95a5a6", "#607d8b",
}

// colourFor 按 ID 固定分配颜色
func colourFor(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return rosterPalette[h.Sum32()%uint32(len(rosterPalette))]
}

// roster 当前在房间内的听众，只用于展示
type roster map[string]model.Listener

func (r roster) join(m playback.Member) {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	r[m.ID] = model.Listener{ID: m.ID, Name: name, Colour: colourFor(m.ID)}
}

func (r roster) leave(id string) (model.Listener, bool) {
	l, ok := r[id]
	delete(r, id)
	return l, ok
}

func (r roster) lookup(id string) model.Listener {
	if l, ok := r[id]; ok {
		return l
	}
	return model.Listener{ID: id, Name: unknownListenerName, Colour: unknownListenerColour}
}
