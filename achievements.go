package main

import (
	"context"
	"fmt"
)

// BadgeView is one achievement as the UI shows it. Locked badges hide
// their name.
type BadgeView struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Unlocked bool   `json:"unlocked"`
}

// checkAchievementsLocked runs after a delivery only.
func (r *Relay) checkAchievementsLocked(ctx context.Context, to string, storming bool) {
	if to == "mars" && r.state.Stats.MarsPings == 1 {
		r.unlockAchievementLocked(ctx, achievementMarsFirst)
	}
	if storming {
		r.unlockAchievementLocked(ctx, achievementStormSurvivor)
	}
}

// unlockAchievementLocked inserts the unlock row unless one already exists.
// It reports whether a new badge was unlocked.
func (r *Relay) unlockAchievementLocked(ctx context.Context, key string) bool {
	if r.gw == nil || r.state.Session == nil {
		return false
	}
	userID := r.state.Session.UserID

	ach, err := r.gw.AchievementByKey(ctx, key)
	if err != nil {
		remoteFailed("Unlock achievement", err)
		return false
	}
	if ach == nil {
		return false
	}
	has, err := r.gw.HasUserAchievement(ctx, userID, ach.ID)
	if err != nil {
		remoteFailed("Unlock achievement", err)
		return false
	}
	if has {
		return false
	}
	if err := r.gw.InsertUserAchievement(ctx, UserAchievement{UserID: userID, AchievementID: ach.ID}); err != nil {
		remoteFailed("Unlock achievement", err)
		return false
	}
	r.addLogLocked(fmt.Sprintf("ACHIEVEMENT UNLOCKED: %s 🏆", ach.Name), "success")
	r.fetchAchievementsLocked(ctx, false)
	return true
}

// fetchAchievementsLocked rebuilds the badge list. With syncStats it also
// adopts the remote mars ping count; that is only safe before this
// session's first delivery has been written back.
func (r *Relay) fetchAchievementsLocked(ctx context.Context, syncStats bool) {
	if r.gw == nil || r.state.Session == nil {
		return
	}
	userID := r.state.Session.UserID

	all, err := r.gw.Achievements(ctx)
	if err != nil {
		remoteFailed("Fetch achievements", err)
		return
	}
	ids, err := r.gw.UserAchievementIDs(ctx, userID)
	if err != nil {
		remoteFailed("Fetch achievements", err)
		return
	}
	if syncStats {
		entry, err := r.gw.GetLeaderboardEntry(ctx, userID)
		if err != nil {
			remoteFailed("Fetch achievements", err)
			return
		}
		if entry != nil {
			r.state.Stats.MarsPings = entry.MarsPings
		}
	}

	unlocked := make(map[int64]bool, len(ids))
	for _, id := range ids {
		unlocked[id] = true
	}
	badges := make([]BadgeView, 0, len(all))
	for _, a := range all {
		b := BadgeView{Key: a.Key, Name: "???"}
		if unlocked[a.ID] {
			b.Name = a.Name
			b.Unlocked = true
		}
		badges = append(badges, b)
	}
	r.state.Badges = badges
	r.Publish(Event{Type: "achievements", Achievements: append([]BadgeView{}, badges...)})
}
