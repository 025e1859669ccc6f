// Package engine runs the character operations end to end: it takes the
// per-character lock, loads state in a transaction, asks the evaluator,
// mutates the ledger, commits, and then writes the audit entry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/eligibility"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/observability"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

// Result is the outcome of a committed mutation. AuditError is set when the
// change was committed but its audit entry could not be written.
type Result struct {
	Character  *ledger.Character     `json:"character"`
	Entry      audit.Entry           `json:"entry"`
	Decision   *eligibility.Decision `json:"decision,omitempty"`
	Grant      *grants.Grant         `json:"grant,omitempty"`
	AuditError error                 `json:"-"`
}

type Service struct {
	store  store.Store
	eval   *eligibility.Evaluator
	cat    *catalog.Catalog
	grants *grants.Resolver
	audit  audit.Logger
	obs    *observability.Provider
	logger *slog.Logger
}

type Option func(*Service)

// WithAudit sets the audit sink. Without one entries go nowhere.
func WithAudit(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(st store.Store, eval *eligibility.Evaluator, opts ...Option) (*Service, error) {
	s := &Service{
		store:  st,
		eval:   eval,
		cat:    eval.Catalog(),
		grants: grants.NewResolver(eval.Catalog()),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "engine")
	if s.obs == nil {
		p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("engine: observability: %w", err)
		}
		s.obs = p
	}
	return s, nil
}

func (s *Service) Catalog() *catalog.Catalog { return s.cat }

func actorFrom(ctx context.Context) (auth.Actor, error) {
	a, err := auth.ActorFrom(ctx)
	if err != nil {
		return auth.Actor{}, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	return a, nil
}

func requireManage(a auth.Actor, c *ledger.Character) error {
	if !a.CanManage(c.PlayerID) {
		return fmt.Errorf("%w: %s may not act on character %s", ErrForbidden, a.ID, c.ID)
	}
	return nil
}

func requirePermission(a auth.Actor, perm string) error {
	if !a.Can(perm) {
		return fmt.Errorf("%w: %s lacks %s", ErrForbidden, a.ID, perm)
	}
	return nil
}

// mutation is the body of an update. It changes c in place and returns the
// audit entry describing the change; the character is saved afterwards.
type mutation func(ctx context.Context, tx store.Tx, a auth.Actor, c *ledger.Character, res *Result) (audit.Entry, error)

func (s *Service) mutate(ctx context.Context, op, characterID string, fn mutation) (*Result, error) {
	ctx, done := s.obs.TrackOperation(ctx, op, attribute.String("character.id", characterID))

	a, err := actorFrom(ctx)
	if err != nil {
		done(err)
		return nil, err
	}

	res := &Result{}
	err = s.store.Update(ctx, characterID, func(tx store.Tx) error {
		c, err := tx.Character(ctx, characterID)
		if err != nil {
			return err
		}
		entry, err := fn(ctx, tx, a, c, res)
		if err != nil {
			return err
		}
		if err := tx.SaveCharacter(ctx, c); err != nil {
			return err
		}
		res.Character = c
		res.Entry = entry
		return nil
	})
	if err != nil {
		err = translate(err)
		s.logFailure(ctx, op, characterID, err)
		done(err)
		return nil, err
	}

	res.Entry.CharacterID = characterID
	res.Entry.ActorID = a.ID
	res.Entry = audit.Fill(ctx, res.Entry)
	res.AuditError = s.record(ctx, res.Entry)
	done(nil)
	return res, nil
}

// record writes an entry after commit. Failures are logged and counted but
// never undo the change.
func (s *Service) record(ctx context.Context, e audit.Entry) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "audit write failed",
			"character_id", e.CharacterID,
			"action", e.Action,
			"error", err,
		)
		s.obs.RecordAuditFailure(ctx, string(e.Action))
		return err
	}
	return nil
}

func (s *Service) logFailure(ctx context.Context, op, characterID string, err error) {
	var denied *DeniedError
	switch {
	case errors.As(err, &denied):
		reasons := make([]string, 0, len(denied.Decision.Unmet))
		for _, u := range denied.Decision.Unmet {
			reasons = append(reasons, u.Message)
		}
		s.logger.InfoContext(ctx, "purchase denied",
			"op", op,
			"character_id", characterID,
			"target", denied.Decision.Target.String(),
			"unmet", reasons,
			"cost", denied.Decision.Cost,
			"remaining", denied.Decision.Remaining,
		)
	case errors.Is(err, ErrConcurrentModification):
		s.logger.WarnContext(ctx, "concurrent modification", "op", op, "character_id", characterID, "error", err)
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrUnknownCharacter), errors.Is(err, ErrUnknownTarget):
		s.logger.DebugContext(ctx, "request rejected", "op", op, "character_id", characterID, "error", err)
	case isRejection(err):
		s.logger.InfoContext(ctx, "request rejected", "op", op, "character_id", characterID, "error", err)
	default:
		s.logger.ErrorContext(ctx, "operation failed", "op", op, "character_id", characterID, "error", err)
	}
}

// rejections are caller mistakes rather than faults.
var rejections = []error{
	ledger.ErrAlreadyOwned, ledger.ErrOriginCategoryTaken, ledger.ErrInvalidAmount,
	ledger.ErrNotAlive, ledger.ErrPurchaseLimit, ledger.ErrInsufficientPoints, ledger.ErrInvalidStatus,
	grants.ErrExhausted, grants.ErrNotFound, grants.ErrInvalid, grants.ErrAlreadyHeld,
}

func isRejection(err error) bool {
	for _, sentinel := range rejections {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// view loads a character for a read-only operation and checks the actor
// may see it.
func (s *Service) view(ctx context.Context, characterID string, fn func(r store.Reader, a auth.Actor, c *ledger.Character) error) error {
	a, err := actorFrom(ctx)
	if err != nil {
		return err
	}
	err = s.store.View(ctx, func(r store.Reader) error {
		c, err := r.Character(ctx, characterID)
		if err != nil {
			return err
		}
		if err := requireManage(a, c); err != nil {
			return err
		}
		return fn(r, a, c)
	})
	return translate(err)
}
