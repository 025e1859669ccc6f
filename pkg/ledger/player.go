package ledger

import "time"

// Player owns characters and a pool of points not yet given to any of them.
type Player struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	CPAvailable int       `json:"cp_available"`
	CreatedAt   time.Time `json:"created_at"`
}

// Activate marks target as the player's active character and clears the
// flag on the others. Characters of other players are ignored.
func Activate(target *Character, siblings []*Character) error {
	if err := target.requireAlive(); err != nil {
		return err
	}
	for _, c := range siblings {
		if c.PlayerID == target.PlayerID && c.ID != target.ID {
			c.Active = false
		}
	}
	target.Active = true
	return nil
}
