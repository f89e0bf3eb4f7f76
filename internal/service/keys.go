package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/keydropio/keydrop/internal/lifecycle"
	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/store"
	"github.com/keydropio/keydrop/internal/token"
)

var (
	// ErrGenerationFailed means no unique token could be produced within
	// the configured number of attempts, or the randomness source failed.
	ErrGenerationFailed = errors.New("key generation failed")
	// ErrInvalidFormat is returned for an unknown token format.
	ErrInvalidFormat = errors.New("invalid key format")
	// ErrEmptyQuery is returned when a search has nothing to match.
	ErrEmptyQuery = errors.New("search query is required")
)

const (
	// DefaultKeyName labels keys issued without a name.
	DefaultKeyName = "Unnamed Key"
	// GeneratedKeyName labels keys issued through the external generate
	// endpoint without a name.
	GeneratedKeyName = "Generated Key"
	// MaxUsesLimit caps the per-key use count a caller may request.
	MaxUsesLimit = 1000
)

// KeyConfig holds the operator-tunable knobs of KeyService.
type KeyConfig struct {
	DefaultFormat    model.Format
	DefaultLength    int
	SearchLimit      int
	MaxIssueAttempts int
}

// DefaultKeyConfig returns the settings used when nothing is configured.
func DefaultKeyConfig() KeyConfig {
	return KeyConfig{
		DefaultFormat:    model.FormatBash,
		DefaultLength:    token.DefaultLength,
		SearchLimit:      1,
		MaxIssueAttempts: 5,
	}
}

// KeyService is the entry point for every key operation. It composes the
// token generator, lifecycle policy and key store; it never mutates a record
// itself.
type KeyService struct {
	store  store.Store
	gen    *token.Generator
	policy *lifecycle.Policy
	cfg    KeyConfig
	logger *slog.Logger
}

// NewKeyService wires a KeyService. Zero-valued config fields fall back to
// DefaultKeyConfig.
func NewKeyService(st store.Store, gen *token.Generator, policy *lifecycle.Policy, cfg KeyConfig, logger *slog.Logger) *KeyService {
	def := DefaultKeyConfig()
	if !cfg.DefaultFormat.Valid() {
		cfg.DefaultFormat = def.DefaultFormat
	}
	if cfg.DefaultLength <= 0 {
		cfg.DefaultLength = def.DefaultLength
	}
	if cfg.SearchLimit == 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	if cfg.MaxIssueAttempts <= 0 {
		cfg.MaxIssueAttempts = def.MaxIssueAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{store: st, gen: gen, policy: policy, cfg: cfg, logger: logger}
}

// Policy returns the lifecycle policy used to stamp new keys.
func (s *KeyService) Policy() *lifecycle.Policy { return s.policy }

// ---------------------------------------------------------------------------
// Issuance
// ---------------------------------------------------------------------------

// IssueRequest describes a key to issue. Zero values select defaults.
type IssueRequest struct {
	Name    string
	Format  model.Format
	Length  int
	MaxUses int
}

// Issue generates, stamps and persists a new key. Token collisions are
// retried up to the configured attempt count and then reported as
// ErrGenerationFailed.
func (s *KeyService) Issue(ctx context.Context, req IssueRequest) (*model.Key, error) {
	format := req.Format
	if format == "" {
		format = s.cfg.DefaultFormat
	}
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultKeyName
	}
	length := req.Length
	if length == 0 {
		length = s.cfg.DefaultLength
	}
	maxUses := req.MaxUses
	if maxUses > MaxUsesLimit {
		maxUses = MaxUsesLimit
	}

	for attempt := 1; attempt <= s.cfg.MaxIssueAttempts; attempt++ {
		tok, err := s.gen.Generate(format, length)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}

		k := s.policy.Stamp(model.Draft{Name: name, Token: tok, Format: format, MaxUses: maxUses})
		err = s.store.Create(ctx, &k)
		if errors.Is(err, store.ErrDuplicateToken) {
			s.logger.Debug("token collision, retrying", "attempt", attempt, "format", format)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("issue key: %w", err)
		}

		s.logger.Info("key issued", "id", k.ID, "name", k.Name, "format", k.Format, "expires_at", k.ExpiresAt)
		return &k, nil
	}
	return nil, fmt.Errorf("%w: no unique token after %d attempts", ErrGenerationFailed, s.cfg.MaxIssueAttempts)
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// Result is the outcome of checking or validating a token.
type Result struct {
	Status model.Status
	Key    *model.Key
}

// Valid reports whether the token was valid.
func (r Result) Valid() bool { return r.Status == model.StatusValid }

// Data returns the public metadata of the key, or nil when none was found.
func (r Result) Data() *model.KeyData {
	if r.Key == nil {
		return nil
	}
	d := r.Key.PublicData()
	return &d
}

// Check classifies token without consuming it.
func (s *KeyService) Check(ctx context.Context, tok string) (Result, error) {
	if tok == "" {
		return Result{Status: model.StatusNotFound}, nil
	}
	k, err := s.store.Get(ctx, tok)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Status: model.StatusNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("check key: %w", err)
	}
	return Result{Status: lifecycle.Classify(k, s.policy.Now()), Key: k}, nil
}

// Validate classifies token and, when it is valid, consumes one use in the
// same atomic store operation. The returned key reflects the use just
// consumed.
func (s *KeyService) Validate(ctx context.Context, tok string) (Result, error) {
	if tok == "" {
		return Result{Status: model.StatusNotFound}, nil
	}
	k, err := s.store.Consume(ctx, tok, s.policy.Now())
	switch {
	case err == nil:
		s.logger.Info("key consumed", "id", k.ID, "used", k.UsedCount, "max_uses", k.MaxUses)
		return Result{Status: model.StatusValid, Key: k}, nil
	case errors.Is(err, store.ErrNotFound):
		return Result{Status: model.StatusNotFound}, nil
	case errors.Is(err, store.ErrExpired):
		return Result{Status: model.StatusExpired, Key: k}, nil
	case errors.Is(err, store.ErrExhausted):
		return Result{Status: model.StatusExhausted, Key: k}, nil
	default:
		return Result{}, fmt.Errorf("validate key: %w", err)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// List sweeps expired keys and then returns the keys matching filter.
func (s *KeyService) List(ctx context.Context, filter store.Filter) ([]model.Key, error) {
	if _, err := s.Sweep(ctx); err != nil {
		return nil, err
	}
	keys, err := s.store.List(ctx, filter, s.policy.Now())
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

// Snapshot returns the live keys with a summary. It is computed fresh from
// the store on every call.
func (s *KeyService) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	keys, err := s.store.List(ctx, store.FilterLive, s.policy.Now())
	if err != nil {
		return nil, fmt.Errorf("snapshot keys: %w", err)
	}
	snap := &model.Snapshot{Keys: keys, Metadata: model.SnapshotMeta{TotalKeys: len(keys)}}
	for i := range keys {
		if snap.Metadata.LastGenerated == nil || keys[i].CreatedAt.After(*snap.Metadata.LastGenerated) {
			t := keys[i].CreatedAt
			snap.Metadata.LastGenerated = &t
		}
	}
	if snap.Keys == nil {
		snap.Keys = []model.Key{}
	}
	return snap, nil
}

// Search sweeps expired keys and returns live keys whose name or token
// contains query, most recent first, capped at the configured limit.
func (s *KeyService) Search(ctx context.Context, query string) ([]model.Key, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := s.Sweep(ctx); err != nil {
		return nil, err
	}
	keys, err := s.store.Search(ctx, query, s.cfg.SearchLimit, s.policy.Now())
	if err != nil {
		return nil, fmt.Errorf("search keys: %w", err)
	}
	return keys, nil
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

// Sweep deletes every expired key and returns how many were removed.
func (s *KeyService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.SweepExpired(ctx, s.policy.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep keys: %w", err)
	}
	if n > 0 {
		s.logger.Info("swept expired keys", "removed", n)
	}
	return n, nil
}

// Clear deletes every key.
func (s *KeyService) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear keys: %w", err)
	}
	s.logger.Warn("cleared all keys")
	return nil
}

// Ping reports whether the key store is reachable.
func (s *KeyService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
