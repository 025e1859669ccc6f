package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "valor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(nil),
		"sqlite": sq,
	}
}

func seed(t *testing.T, s Store, cp int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreatePlayer(ctx, &ledger.Player{ID: "p1", Name: "Pat", CPAvailable: 20}))
	c := ledger.New("c1", "p1", "Aria")
	c.CPAvailable = cp
	require.NoError(t, s.CreateCharacter(ctx, c))
}

var offer = catalog.HeaderSkill{HeaderID: 1, SkillID: 10, Cost: 1}

func TestCreateAndRead(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, 10)

			assert.ErrorIs(t, s.CreatePlayer(ctx, &ledger.Player{ID: "p1", Name: "again"}), ErrExists)
			assert.ErrorIs(t, s.CreateCharacter(ctx, ledger.New("c1", "p1", "dup")), ErrExists)
			assert.ErrorIs(t, s.CreateCharacter(ctx, ledger.New("c9", "nobody", "x")), ErrNotFound)

			require.NoError(t, s.View(ctx, func(r Reader) error {
				c, err := r.Character(ctx, "c1")
				require.NoError(t, err)
				assert.Equal(t, "Aria", c.Name)
				assert.Equal(t, 10, c.CPAvailable)
				assert.Equal(t, ledger.StatusAlive, c.Status)
				assert.Equal(t, int64(0), c.Version)

				_, err = r.Character(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)

				cs, err := r.CharactersOfPlayer(ctx, "p1")
				require.NoError(t, err)
				assert.Len(t, cs, 1)
				return nil
			}))
		})
	}
}

func TestUpdateCommitsEverything(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, 10)

			g := grants.New("c1", grants.SkillGrant, 11, "reward")
			g.HeaderID = 1
			g.PicksRemaining = 1

			err := s.Update(ctx, "c1", func(tx Tx) error {
				c, err := tx.Character(ctx, "c1")
				if err != nil {
					return err
				}
				require.NoError(t, c.AddHeader(1))
				require.NoError(t, c.ApplyPurchase(offer))
				c.GrantSkill(11, 1)
				require.NoError(t, c.AddOrigin(catalog.Origin{ID: 100, Category: catalog.CategoryRace}))
				if err := tx.SaveCharacter(ctx, c); err != nil {
					return err
				}
				assert.Equal(t, int64(1), c.Version)

				p, err := tx.Player(ctx, "p1")
				if err != nil {
					return err
				}
				require.NoError(t, c.Transfer(p, 5))
				if err := tx.SavePlayer(ctx, p); err != nil {
					return err
				}
				if err := tx.SaveCharacter(ctx, c); err != nil {
					return err
				}
				assert.Equal(t, int64(2), c.Version)
				return tx.SaveGrant(ctx, g)
			})
			require.NoError(t, err)

			require.NoError(t, s.View(ctx, func(r Reader) error {
				c, err := r.Character(ctx, "c1")
				require.NoError(t, err)
				assert.True(t, c.OwnsHeader(1))
				assert.Equal(t, 1, c.PurchaseCount(10))
				assert.Equal(t, 1, c.PurchaseCount(11))
				assert.Equal(t, 1, c.CPSpent)
				assert.Equal(t, 15, c.CPAvailable)
				assert.Equal(t, 5, c.CPTransferred)
				assert.True(t, c.OwnsOrigin(100))
				assert.Equal(t, 0, c.TotalPointsSpent(ptrHeader(2)))

				p, err := r.Player(ctx, "p1")
				require.NoError(t, err)
				assert.Equal(t, 15, p.CPAvailable)

				gs, err := r.Grants(ctx, "c1")
				require.NoError(t, err)
				require.Len(t, gs, 1)
				assert.Equal(t, g.ID, gs[0].ID)
				assert.Equal(t, 1, gs[0].PicksRemaining)
				assert.Equal(t, catalog.HeaderID(1), gs[0].HeaderID)
				assert.True(t, gs[0].Free)
				return nil
			}))

			// Exercising the grant updates the same row.
			require.NoError(t, s.Update(ctx, "c1", func(tx Tx) error {
				gs, err := tx.Grants(ctx, "c1")
				if err != nil {
					return err
				}
				require.NoError(t, gs[0].Exercise())
				return tx.SaveGrant(ctx, gs[0])
			}))
			require.NoError(t, s.View(ctx, func(r Reader) error {
				gs, err := r.Grants(ctx, "c1")
				require.NoError(t, err)
				require.Len(t, gs, 1)
				assert.Equal(t, 0, gs[0].PicksRemaining)
				return nil
			}))
		})
	}
}

func ptrHeader(h catalog.HeaderID) *catalog.HeaderID { return &h }

func TestUpdateRollsBackOnError(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, 10)
			boom := errors.New("boom")

			err := s.Update(ctx, "c1", func(tx Tx) error {
				c, err := tx.Character(ctx, "c1")
				if err != nil {
					return err
				}
				require.NoError(t, c.ApplyPurchase(offer))
				if err := tx.SaveCharacter(ctx, c); err != nil {
					return err
				}
				return boom
			})
			assert.ErrorIs(t, err, boom)

			require.NoError(t, s.View(ctx, func(r Reader) error {
				c, err := r.Character(ctx, "c1")
				require.NoError(t, err)
				assert.Equal(t, 0, c.CPSpent)
				assert.Equal(t, int64(0), c.Version)
				return nil
			}))

			assert.ErrorIs(t, s.Update(ctx, "missing", func(Tx) error { return nil }), ErrNotFound)
		})
	}
}

func TestStaleSaveConflicts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, 10)

			var stale *ledger.Character
			require.NoError(t, s.View(ctx, func(r Reader) error {
				var err error
				stale, err = r.Character(ctx, "c1")
				return err
			}))
			require.NoError(t, s.Update(ctx, "c1", func(tx Tx) error {
				c, _ := tx.Character(ctx, "c1")
				require.NoError(t, c.Award(1))
				return tx.SaveCharacter(ctx, c)
			}))

			err := s.Update(ctx, "c1", func(tx Tx) error {
				return tx.SaveCharacter(ctx, stale)
			})
			assert.ErrorIs(t, err, ErrConflict)
		})
	}
}

func TestConcurrentPurchasesSerialize(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, 5)

			var wg sync.WaitGroup
			var mu sync.Mutex
			ok, short := 0, 0
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.Update(ctx, "c1", func(tx Tx) error {
						c, err := tx.Character(ctx, "c1")
						if err != nil {
							return err
						}
						if err := c.ApplyPurchase(offer); err != nil {
							return err
						}
						return tx.SaveCharacter(ctx, c)
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						ok++
					case errors.Is(err, ledger.ErrInsufficientPoints):
						short++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 5, ok)
			assert.Equal(t, 7, short)
			require.NoError(t, s.View(ctx, func(r Reader) error {
				c, err := r.Character(ctx, "c1")
				require.NoError(t, err)
				assert.Equal(t, 5, c.CPSpent)
				assert.Equal(t, 5, c.PurchaseCount(10))
				return nil
			}))
		})
	}
}

func TestSQLAuditLog(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "valor.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(ctx, audit.Entry{CharacterID: "c1", Action: audit.ActionAward, Message: "Awarded 5 CP", Metadata: map[string]string{"reason": "event"}}))
	require.NoError(t, s.Record(ctx, audit.Entry{CharacterID: "c1", Action: audit.ActionPurchaseSkill, Target: "skill:10", Cost: 6}))
	require.NoError(t, s.Record(ctx, audit.Entry{CharacterID: "c2", Action: audit.ActionCreate}))

	entries, err := s.Entries(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionAward, entries[0].Action)
	assert.Equal(t, "event", entries[0].Metadata["reason"])
	assert.Equal(t, "system", entries[0].ActorID)
	assert.Equal(t, 6, entries[1].Cost)
	assert.False(t, entries[1].CreatedAt.IsZero())

	require.NoError(t, s.Ping(ctx))
}
