// Package ledger keeps a character's point account and everything the
// character owns. Mutations validate before they change anything, so a
// failed call leaves the character exactly as it was.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/timothyplummer/talesofvalor/pkg/catalog"
)

var (
	ErrInsufficientPoints  = errors.New("ledger: insufficient character points")
	ErrAlreadyOwned        = errors.New("ledger: already owned")
	ErrOriginCategoryTaken = errors.New("ledger: character already has an origin of that category")
	ErrPurchaseLimit       = errors.New("ledger: purchase limit reached")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrNotAlive            = errors.New("ledger: character is not alive")
	ErrInvalidStatus       = errors.New("ledger: invalid status")
)

// InsufficientPointsError reports the shortfall of a failed purchase.
type InsufficientPointsError struct {
	Cost      int
	Remaining int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient character points: cost %d, remaining %d", e.Cost, e.Remaining)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// Status is the character's life state.
type Status string

const (
	StatusAlive   Status = "alive"
	StatusDead    Status = "dead"
	StatusRetired Status = "retired"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusAlive, StatusDead, StatusRetired:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Purchase is what was bought of one skill under one header.
type Purchase struct {
	Count int `json:"count"`
	Spent int `json:"spent"`
}

// OwnedSkill records every acquisition of a skill keyed by the header it
// was taken under. Granted units cost nothing.
type OwnedSkill struct {
	Bought  map[catalog.HeaderID]Purchase `json:"bought,omitempty"`
	Granted map[catalog.HeaderID]int      `json:"granted,omitempty"`
}

// Count is the total number of units of the skill.
func (o *OwnedSkill) Count() int {
	n := 0
	for _, p := range o.Bought {
		n += p.Count
	}
	for _, g := range o.Granted {
		n += g
	}
	return n
}

// CountUnder is the number of units held under header.
func (o *OwnedSkill) CountUnder(h catalog.HeaderID) int {
	return o.Bought[h].Count + o.Granted[h]
}

// Spent is the total paid for the skill.
func (o *OwnedSkill) Spent() int {
	n := 0
	for _, p := range o.Bought {
		n += p.Spent
	}
	return n
}

func (o *OwnedSkill) clone() *OwnedSkill {
	c := &OwnedSkill{}
	if o.Bought != nil {
		c.Bought = make(map[catalog.HeaderID]Purchase, len(o.Bought))
		for k, v := range o.Bought {
			c.Bought[k] = v
		}
	}
	if o.Granted != nil {
		c.Granted = make(map[catalog.HeaderID]int, len(o.Granted))
		for k, v := range o.Granted {
			c.Granted[k] = v
		}
	}
	return c
}

// Character is a player's character and its point ledger.
type Character struct {
	ID            string                                      `json:"id"`
	PlayerID      string                                      `json:"player_id"`
	Name          string                                      `json:"name"`
	Status        Status                                      `json:"status"`
	Active        bool                                        `json:"active"`
	NPC           bool                                        `json:"npc"`
	CPSpent       int                                         `json:"cp_spent"`
	CPAvailable   int                                         `json:"cp_available"`
	CPTransferred int                                         `json:"cp_transferred"`
	Origins       map[catalog.OriginID]catalog.OriginCategory `json:"origins"`
	Headers       map[catalog.HeaderID]bool                   `json:"headers"`
	Skills        map[catalog.SkillID]*OwnedSkill             `json:"skills"`
	Version       int64                                       `json:"version"`
	CreatedAt     time.Time                                   `json:"created_at"`
	UpdatedAt     time.Time                                   `json:"updated_at"`
}

// New returns an alive character with no points and nothing owned.
func New(id, playerID, name string) *Character {
	return &Character{
		ID:       id,
		PlayerID: playerID,
		Name:     name,
		Status:   StatusAlive,
		Origins:  make(map[catalog.OriginID]catalog.OriginCategory),
		Headers:  make(map[catalog.HeaderID]bool),
		Skills:   make(map[catalog.SkillID]*OwnedSkill),
	}
}

// Clone returns a deep copy.
func (c *Character) Clone() *Character {
	out := *c
	out.Origins = make(map[catalog.OriginID]catalog.OriginCategory, len(c.Origins))
	for k, v := range c.Origins {
		out.Origins[k] = v
	}
	out.Headers = make(map[catalog.HeaderID]bool, len(c.Headers))
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	out.Skills = make(map[catalog.SkillID]*OwnedSkill, len(c.Skills))
	for k, v := range c.Skills {
		out.Skills[k] = v.clone()
	}
	return &out
}

// Remaining is the unspent point balance.
func (c *Character) Remaining() int {
	return c.CPAvailable - c.CPSpent
}

func (c *Character) OwnsOrigin(id catalog.OriginID) bool {
	_, ok := c.Origins[id]
	return ok
}

func (c *Character) OwnsHeader(id catalog.HeaderID) bool {
	return c.Headers[id]
}

func (c *Character) OwnsSkill(id catalog.SkillID) bool {
	return c.PurchaseCount(id) > 0
}

// PurchaseCount is how many units of the skill the character holds,
// bought or granted.
func (c *Character) PurchaseCount(id catalog.SkillID) int {
	s, ok := c.Skills[id]
	if !ok {
		return 0
	}
	return s.Count()
}

// TotalPointsSpent returns points spent within header when scope is set,
// otherwise cp_spent.
func (c *Character) TotalPointsSpent(scope *catalog.HeaderID) int {
	if scope == nil {
		return c.CPSpent
	}
	n := 0
	for _, s := range c.Skills {
		n += s.Bought[*scope].Spent
	}
	return n
}

// OriginIDs returns owned origins in ascending order.
func (c *Character) OriginIDs() []catalog.OriginID {
	out := make([]catalog.OriginID, 0, len(c.Origins))
	for id := range c.Origins {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HeaderIDs returns owned headers in ascending order.
func (c *Character) HeaderIDs() []catalog.HeaderID {
	out := make([]catalog.HeaderID, 0, len(c.Headers))
	for id, ok := range c.Headers {
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SkillIDs returns held skills in ascending order.
func (c *Character) SkillIDs() []catalog.SkillID {
	out := make([]catalog.SkillID, 0, len(c.Skills))
	for id, s := range c.Skills {
		if s.Count() > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Character) requireAlive() error {
	if c.Status != StatusAlive {
		return fmt.Errorf("%w: %s is %s", ErrNotAlive, c.ID, c.Status)
	}
	return nil
}

// ApplyPurchase buys one unit of offer.SkillID under offer.HeaderID and
// debits its cost. MaxPurchases caps the units bought under that header;
// granted units and units bought under other headers do not count. It fails
// with *InsufficientPointsError when the unspent balance is below the cost,
// and changes nothing on failure.
func (c *Character) ApplyPurchase(offer catalog.HeaderSkill) error {
	if err := c.requireAlive(); err != nil {
		return err
	}
	owned := c.Skills[offer.SkillID]
	if offer.MaxPurchases > 0 && owned != nil && owned.Bought[offer.HeaderID].Count >= offer.MaxPurchases {
		return fmt.Errorf("%w: skill %d allows %d", ErrPurchaseLimit, offer.SkillID, offer.MaxPurchases)
	}
	if c.Remaining() < offer.Cost {
		return &InsufficientPointsError{Cost: offer.Cost, Remaining: c.Remaining()}
	}

	if owned == nil {
		owned = &OwnedSkill{}
		c.Skills[offer.SkillID] = owned
	}
	if owned.Bought == nil {
		owned.Bought = make(map[catalog.HeaderID]Purchase)
	}
	p := owned.Bought[offer.HeaderID]
	p.Count++
	p.Spent += offer.Cost
	owned.Bought[offer.HeaderID] = p
	c.CPSpent += offer.Cost
	return nil
}

// AddHeader opens a header. Headers cost no points.
func (c *Character) AddHeader(id catalog.HeaderID) error {
	if err := c.requireAlive(); err != nil {
		return err
	}
	if c.Headers[id] {
		return fmt.Errorf("%w: header %d", ErrAlreadyOwned, id)
	}
	c.Headers[id] = true
	return nil
}

// GrantSkill adds a free unit of a skill under header.
func (c *Character) GrantSkill(skill catalog.SkillID, header catalog.HeaderID) {
	owned := c.Skills[skill]
	if owned == nil {
		owned = &OwnedSkill{}
		c.Skills[skill] = owned
	}
	if owned.Granted == nil {
		owned.Granted = make(map[catalog.HeaderID]int)
	}
	owned.Granted[header]++
}

// GrantHeader opens a header for free. Granting an owned header is a no-op.
func (c *Character) GrantHeader(id catalog.HeaderID) {
	c.Headers[id] = true
}

// AddOrigin assigns an origin. A character holds at most one origin per
// category.
func (c *Character) AddOrigin(o catalog.Origin) error {
	if _, ok := c.Origins[o.ID]; ok {
		return fmt.Errorf("%w: origin %d", ErrAlreadyOwned, o.ID)
	}
	for id, cat := range c.Origins {
		if cat == o.Category {
			return fmt.Errorf("%w: %s (holds %d)", ErrOriginCategoryTaken, o.Category, id)
		}
	}
	c.Origins[o.ID] = o.Category
	return nil
}

// Award raises cp_available.
func (c *Character) Award(amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	c.CPAvailable += amount
	return nil
}

// Transfer moves points from the player's pool into the character.
func (c *Character) Transfer(p *Player, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if p.ID != c.PlayerID {
		return fmt.Errorf("ledger: player %s does not own character %s", p.ID, c.ID)
	}
	if p.CPAvailable < amount {
		return &InsufficientPointsError{Cost: amount, Remaining: p.CPAvailable}
	}
	p.CPAvailable -= amount
	c.CPAvailable += amount
	c.CPTransferred += amount
	return nil
}

// SetStatus changes the life state.
func (c *Character) SetStatus(s Status) error {
	if _, err := ParseStatus(string(s)); err != nil {
		return err
	}
	c.Status = s
	if s != StatusAlive {
		c.Active = false
	}
	return nil
}
