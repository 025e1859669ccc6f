package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/lock"
)

// Dialect selects placeholder style and row locking.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQL is a Store over database/sql. It also records audit entries in the
// character_logs table.
type SQL struct {
	db          *sql.DB
	dialect     Dialect
	locks       lock.Locker
	lockTimeout time.Duration
	now         func() time.Time
}

var (
	_ Store         = (*SQL)(nil)
	_ audit.Logger  = (*SQL)(nil)
	_ audit.Querier = (*SQL)(nil)
)

type Option func(*SQL)

// WithLocker replaces the in-process per-character lock, e.g. with a Redis
// lease when several servers share one database.
func WithLocker(l lock.Locker) Option {
	return func(s *SQL) { s.locks = l }
}

// WithLockTimeout bounds how long Postgres waits on a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *SQL) { s.lockTimeout = d }
}

func NewSQL(db *sql.DB, dialect Dialect, opts ...Option) *SQL {
	s := &SQL{
		db:          db,
		dialect:     dialect,
		locks:       lock.NewLocal(),
		lockTimeout: 5 * time.Second,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenSQLite opens (creating if needed) the database file at path and
// migrates it. Write transactions begin IMMEDIATE so two writers never
// deadlock upgrading a read lock.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	s := NewSQL(db, DialectSQLite, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects with lib/pq and migrates.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	s := NewSQL(db, DialectPostgres, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// classify maps lock and serialization failures to ErrConflict.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() & 0xff {
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		return coded.Code()&0xff == 19 // SQLITE_CONSTRAINT
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQL) View(ctx context.Context, fn func(Reader) error) error {
	return fn(sqlReader{s: s, q: s.db})
}

func (s *SQL) Update(ctx context.Context, characterID string, fn func(Tx) error) error {
	release, err := s.locks.Acquire(ctx, lock.CharacterKey(characterID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("store: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if s.dialect == DialectPostgres {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classify(err)
		}
	}

	t := &sqlTx{sqlReader{s: s, q: tx, forUpdate: true}}
	if _, err := t.Character(ctx, characterID); err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("store: commit: %w", err))
	}
	committed = true
	return nil
}

func (s *SQL) CreatePlayer(ctx context.Context, p *ledger.Player) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(qInsertPlayer), p.ID, p.UserID, p.Name, p.CPAvailable, formatTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: player %s", ErrExists, p.ID)
	}
	return err
}

func (s *SQL) CreateCharacter(ctx context.Context, c *ledger.Character) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	r := sqlReader{s: s, q: tx}
	if _, err := r.Player(ctx, c.PlayerID); err != nil {
		return err
	}

	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err = tx.ExecContext(ctx, s.rebind(qInsertCharacter),
		c.ID, c.PlayerID, c.Name, string(c.Status), c.Active, c.NPC,
		c.CPSpent, c.CPAvailable, c.CPTransferred, c.Version,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: character %s", ErrExists, c.ID)
		}
		return classify(err)
	}
	if err := s.insertChildren(ctx, tx, c); err != nil {
		return err
	}
	return classify(tx.Commit())
}

// Record implements audit.Logger.
func (s *SQL) Record(ctx context.Context, e audit.Entry) error {
	e = audit.Fill(ctx, e)
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(qInsertLog),
		e.ID, e.CharacterID, e.ActorID, string(e.Action), e.Message, e.Target, e.Cost, string(meta), formatTime(e.CreatedAt))
	return err
}

// Entries implements audit.Querier.
func (s *SQL) Entries(ctx context.Context, characterID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(qLogs), characterID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			action  string
			meta    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.CharacterID, &e.ActorID, &action, &e.Message, &e.Target, &e.Cost, &meta, &created); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		e.CreatedAt = parseTime(created)
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQL) insertChildren(ctx context.Context, q querier, c *ledger.Character) error {
	for _, id := range c.OriginIDs() {
		if _, err := q.ExecContext(ctx, s.rebind(qInsertOrigin), c.ID, int64(id), string(c.Origins[id])); err != nil {
			return classify(err)
		}
	}
	for _, id := range c.HeaderIDs() {
		if _, err := q.ExecContext(ctx, s.rebind(qInsertHeader), c.ID, int64(id)); err != nil {
			return classify(err)
		}
	}
	skillIDs := make([]catalog.SkillID, 0, len(c.Skills))
	for id := range c.Skills {
		skillIDs = append(skillIDs, id)
	}
	sort.Slice(skillIDs, func(i, j int) bool { return skillIDs[i] < skillIDs[j] })
	for _, sid := range skillIDs {
		owned := c.Skills[sid]
		headers := make(map[catalog.HeaderID]bool)
		for h := range owned.Bought {
			headers[h] = true
		}
		for h := range owned.Granted {
			headers[h] = true
		}
		hids := make([]catalog.HeaderID, 0, len(headers))
		for h := range headers {
			hids = append(hids, h)
		}
		sort.Slice(hids, func(i, j int) bool { return hids[i] < hids[j] })
		for _, h := range hids {
			p := owned.Bought[h]
			if _, err := q.ExecContext(ctx, s.rebind(qInsertSkill), c.ID, int64(sid), int64(h), p.Count, p.Spent, owned.Granted[h]); err != nil {
				return classify(err)
			}
		}
	}
	return nil
}

type sqlReader struct {
	s         *SQL
	q         querier
	forUpdate bool
}

func (r sqlReader) lockClause() string {
	if r.forUpdate && r.s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (r sqlReader) Character(ctx context.Context, id string) (*ledger.Character, error) {
	var (
		c       = ledger.New("", "", "")
		status  string
		created string
		updated string
	)
	err := r.q.QueryRowContext(ctx, r.s.rebind(qCharacter+r.lockClause()), id).Scan(
		&c.ID, &c.PlayerID, &c.Name, &status, &c.Active, &c.NPC,
		&c.CPSpent, &c.CPAvailable, &c.CPTransferred, &c.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: character %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	c.Status = ledger.Status(status)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)

	if err := r.loadOrigins(ctx, c); err != nil {
		return nil, err
	}
	if err := r.loadHeaders(ctx, c); err != nil {
		return nil, err
	}
	if err := r.loadSkills(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r sqlReader) loadOrigins(ctx context.Context, c *ledger.Character) error {
	rows, err := r.q.QueryContext(ctx, r.s.rebind(qOrigins), c.ID)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		var category string
		if err := rows.Scan(&id, &category); err != nil {
			return err
		}
		c.Origins[catalog.OriginID(id)] = catalog.OriginCategory(category)
	}
	return rows.Err()
}

func (r sqlReader) loadHeaders(ctx context.Context, c *ledger.Character) error {
	rows, err := r.q.QueryContext(ctx, r.s.rebind(qHeaders), c.ID)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		c.Headers[catalog.HeaderID(id)] = true
	}
	return rows.Err()
}

func (r sqlReader) loadSkills(ctx context.Context, c *ledger.Character) error {
	rows, err := r.q.QueryContext(ctx, r.s.rebind(qSkills), c.ID)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var sid, hid int64
		var bought, spent, granted int
		if err := rows.Scan(&sid, &hid, &bought, &spent, &granted); err != nil {
			return err
		}
		owned := c.Skills[catalog.SkillID(sid)]
		if owned == nil {
			owned = &ledger.OwnedSkill{}
			c.Skills[catalog.SkillID(sid)] = owned
		}
		h := catalog.HeaderID(hid)
		if bought > 0 || spent > 0 {
			if owned.Bought == nil {
				owned.Bought = make(map[catalog.HeaderID]ledger.Purchase)
			}
			owned.Bought[h] = ledger.Purchase{Count: bought, Spent: spent}
		}
		if granted > 0 {
			if owned.Granted == nil {
				owned.Granted = make(map[catalog.HeaderID]int)
			}
			owned.Granted[h] = granted
		}
	}
	return rows.Err()
}

func (r sqlReader) Player(ctx context.Context, id string) (*ledger.Player, error) {
	var p ledger.Player
	var created string
	err := r.q.QueryRowContext(ctx, r.s.rebind(qPlayer+r.lockClause()), id).Scan(&p.ID, &p.UserID, &p.Name, &p.CPAvailable, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: player %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func (r sqlReader) Grants(ctx context.Context, characterID string) ([]*grants.Grant, error) {
	rows, err := r.q.QueryContext(ctx, r.s.rebind(qGrants), characterID)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*grants.Grant
	for rows.Next() {
		var (
			g       grants.Grant
			kind    string
			header  int64
			created string
		)
		if err := rows.Scan(&g.ID, &g.CharacterID, &kind, &g.TargetID, &header, &g.Reason, &g.Free, &g.PicksRemaining, &g.CreatedBy, &created); err != nil {
			return nil, err
		}
		g.Kind = grants.Kind(kind)
		g.HeaderID = catalog.HeaderID(header)
		g.CreatedAt = parseTime(created)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (r sqlReader) CharactersOfPlayer(ctx context.Context, playerID string) ([]*ledger.Character, error) {
	rows, err := r.q.QueryContext(ctx, r.s.rebind(qCharactersOfPlayer), playerID)
	if err != nil {
		return nil, classify(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Siblings are read without row locks; SaveCharacter's version check
	// catches a concurrent change.
	plain := sqlReader{s: r.s, q: r.q}
	out := make([]*ledger.Character, 0, len(ids))
	for _, id := range ids {
		c, err := plain.Character(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type sqlTx struct {
	sqlReader
}

func (t *sqlTx) SaveCharacter(ctx context.Context, c *ledger.Character) error {
	now := t.s.now().UTC()
	res, err := t.q.ExecContext(ctx, t.s.rebind(qUpdateCharacter),
		c.PlayerID, c.Name, string(c.Status), c.Active, c.NPC,
		c.CPSpent, c.CPAvailable, c.CPTransferred, c.Version+1, formatTime(now),
		c.ID, c.Version)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: character %s is no longer at version %d", ErrConflict, c.ID, c.Version)
	}

	for _, q := range []string{qDeleteOrigins, qDeleteHeaders, qDeleteSkills} {
		if _, err := t.q.ExecContext(ctx, t.s.rebind(q), c.ID); err != nil {
			return classify(err)
		}
	}
	if err := t.s.insertChildren(ctx, t.q, c); err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

func (t *sqlTx) SavePlayer(ctx context.Context, p *ledger.Player) error {
	res, err := t.q.ExecContext(ctx, t.s.rebind(qUpdatePlayer), p.UserID, p.Name, p.CPAvailable, p.ID)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: player %s", ErrNotFound, p.ID)
	}
	return nil
}

func (t *sqlTx) SaveGrant(ctx context.Context, g *grants.Grant) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = t.s.now().UTC()
	}
	_, err := t.q.ExecContext(ctx, t.s.rebind(qUpsertGrant),
		g.ID, g.CharacterID, string(g.Kind), g.TargetID, int64(g.HeaderID), g.Reason, g.Free, g.PicksRemaining, g.CreatedBy, formatTime(g.CreatedAt))
	return classify(err)
}
