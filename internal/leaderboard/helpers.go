package leaderboard

import (
	"time"

	ws "github.com/gokatarajesh/geotap/pkg/http/ws"
)

func toWSEntries(entries []Entry) []ws.LeaderboardEntry {
	result := make([]ws.LeaderboardEntry, len(entries))
	for i, e := range entries {
		result[i] = ws.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: e.ParticipantID,
			DisplayName:   e.DisplayName,
			TotalKm:       e.TotalKm,
			SubmittedAt:   e.SubmittedAt.UTC().Format(time.RFC3339),
		}
	}
	return result
}
