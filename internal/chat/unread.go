package chat

import "github.com/converse/internal/model"

// UnreadCount derives the viewer's unread count by walking msgs in creation
// order: every message from the other participant strictly after the marked
// one counts; with no marker, every message from the other participant
// counts. This walk is the source of truth — there is no stored counter that
// could drift from it.
func UnreadCount(msgs []model.Message, viewerID string) int {
	markerIdx := -1
	for i := range msgs {
		if msgs[i].SenderID != viewerID && msgs[i].ReadMarker {
			markerIdx = i
		}
	}
	count := 0
	for i := markerIdx + 1; i < len(msgs); i++ {
		if msgs[i].SenderID != viewerID {
			count++
		}
	}
	return count
}

// mostRecentRead returns the id of the marked message from the other
// participant, or "" when the viewer has not acknowledged anything yet.
func mostRecentRead(msgs []model.Message, viewerID string) string {
	id := ""
	for i := range msgs {
		if msgs[i].SenderID != viewerID && msgs[i].ReadMarker {
			id = msgs[i].ID
		}
	}
	return id
}
