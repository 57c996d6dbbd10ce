package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"murmur/internal/catalog"
	"murmur/internal/models"
	"murmur/internal/observability"
	"murmur/internal/repository"
	"murmur/internal/validation"
)

// GrantInterval is the minimum time between daily grants for one wallet. The
// boundary is inclusive: a grant exactly GrantInterval after the last one is
// allowed.
const GrantInterval = 24 * time.Hour

// BalanceInfo is the wallet view returned to clients: current balance plus the
// features the subject owns.
type BalanceInfo struct {
	Balance      int64    `json:"balance"`
	Entitlements []string `json:"entitlements"`
}

// WalletService owns the token ledger: idempotent daily grants and
// rollback-safe entitlement purchases.
type WalletService struct {
	wallets    repository.WalletRepository
	catalog    *catalog.Catalog
	dailyGrant int64
	now        func() time.Time
}

// NewWalletService returns a new WalletService granting dailyGrant tokens per
// grant window.
func NewWalletService(wallets repository.WalletRepository, cat *catalog.Catalog, dailyGrant int64) *WalletService {
	return &WalletService{
		wallets:    wallets,
		catalog:    cat,
		dailyGrant: dailyGrant,
		now:        time.Now,
	}
}

// EnsureDailyGrant credits the daily token amount if the wallet has not been
// awarded within the last GrantInterval, creating the wallet on first contact.
// It returns the resulting balance and whether this call awarded tokens.
// Concurrent calls for the same subject award at most once per window; the
// losing caller simply observes awarded=false.
func (s *WalletService) EnsureDailyGrant(ctx context.Context, subject models.Subject) (int64, bool, error) {
	if err := validSubject(subject); err != nil {
		return 0, false, err
	}
	now := s.now()

	wallet, err := s.wallets.Get(ctx, subject)
	if models.IsNotFound(err) {
		awarded := now
		created := &models.Wallet{
			UserID:        subject.ID,
			UserType:      subject.Type,
			Balance:       s.dailyGrant,
			LastAwardedAt: &awarded,
		}
		err = s.wallets.Create(ctx, created)
		if err == nil {
			observability.TokenGrants.WithLabelValues("awarded").Inc()
			return created.Balance, true, nil
		}
		// Lost the creation race; the winner's wallet now exists, so fall
		// through to the conditional credit path against it.
		if !errors.Is(err, repository.ErrWalletExists) {
			observability.TokenGrants.WithLabelValues("error").Inc()
			return 0, false, err
		}
	} else if err != nil {
		observability.TokenGrants.WithLabelValues("error").Inc()
		return 0, false, err
	}

	awarded, err := s.wallets.CreditIfElapsed(ctx, subject, s.dailyGrant, now, GrantInterval)
	if err != nil {
		observability.TokenGrants.WithLabelValues("error").Inc()
		return 0, false, err
	}

	wallet, err = s.wallets.Get(ctx, subject)
	if err != nil {
		observability.TokenGrants.WithLabelValues("error").Inc()
		return 0, false, err
	}
	if awarded {
		observability.TokenGrants.WithLabelValues("awarded").Inc()
	} else {
		observability.TokenGrants.WithLabelValues("deduped").Inc()
	}
	return wallet.Balance, awarded, nil
}

// Purchase spends tokens from the subject's wallet to grant a catalog feature.
// The debit is conditional on sufficient balance; if the entitlement write then
// fails, the tokens are returned with a compensating credit so the subject is
// never charged for a feature they did not receive. Returns the new balance.
func (s *WalletService) Purchase(ctx context.Context, subject models.Subject, feature string) (int64, error) {
	if err := validSubject(subject); err != nil {
		return 0, err
	}
	cost, ok := s.catalog.Cost(feature)
	if !ok {
		observability.TokenPurchases.WithLabelValues("unknown_feature").Inc()
		return 0, models.NewValidationError("unknown feature: " + feature)
	}

	owned, err := s.wallets.HasEntitlement(ctx, subject, feature)
	if err != nil {
		observability.TokenPurchases.WithLabelValues("error").Inc()
		return 0, err
	}
	if owned {
		observability.TokenPurchases.WithLabelValues("already_owned").Inc()
		return 0, models.NewAlreadyOwnedError(feature)
	}

	wallet, err := s.wallets.Get(ctx, subject)
	if err != nil {
		if !models.IsNotFound(err) {
			observability.TokenPurchases.WithLabelValues("error").Inc()
		}
		return 0, err
	}
	if wallet.Balance < cost {
		observability.TokenPurchases.WithLabelValues("insufficient_funds").Inc()
		return 0, &models.InsufficientFundsError{
			Required: cost,
			Current:  wallet.Balance,
			Needed:   cost - wallet.Balance,
		}
	}

	debited, err := s.wallets.DebitIfSufficient(ctx, subject, cost)
	if err != nil {
		observability.TokenPurchases.WithLabelValues("error").Inc()
		return 0, err
	}
	if !debited {
		// A concurrent spend drained the wallet between the read and the debit.
		current, err := s.wallets.Get(ctx, subject)
		if err != nil {
			observability.TokenPurchases.WithLabelValues("error").Inc()
			return 0, err
		}
		observability.TokenPurchases.WithLabelValues("insufficient_funds").Inc()
		return 0, &models.InsufficientFundsError{
			Required: cost,
			Current:  current.Balance,
			Needed:   cost - current.Balance,
		}
	}

	if err := s.wallets.GrantEntitlement(ctx, subject, feature); err != nil {
		s.refund(ctx, subject, cost, feature)
		if errors.Is(err, repository.ErrEntitlementExists) {
			observability.TokenPurchases.WithLabelValues("already_owned").Inc()
			return 0, models.NewAlreadyOwnedError(feature)
		}
		observability.TokenPurchases.WithLabelValues("error").Inc()
		return 0, err
	}

	wallet, err = s.wallets.Get(ctx, subject)
	if err != nil {
		// The purchase itself committed; report it with the best balance we have.
		slog.WarnContext(ctx, "balance read after purchase failed",
			"subject_type", subject.Type, "subject_id", subject.ID, "err", err)
		observability.TokenPurchases.WithLabelValues("purchased").Inc()
		return 0, nil
	}
	observability.TokenPurchases.WithLabelValues("purchased").Inc()
	return wallet.Balance, nil
}

// Balance returns the subject's wallet view. A subject with no wallet yet has
// a zero balance and no entitlements rather than an error.
func (s *WalletService) Balance(ctx context.Context, subject models.Subject) (*BalanceInfo, error) {
	if err := validSubject(subject); err != nil {
		return nil, err
	}

	info := &BalanceInfo{Entitlements: []string{}}
	wallet, err := s.wallets.Get(ctx, subject)
	if err != nil && !models.IsNotFound(err) {
		return nil, err
	}
	if wallet != nil {
		info.Balance = wallet.Balance
	}

	entitlements, err := s.wallets.ListEntitlements(ctx, subject)
	if err != nil {
		return nil, err
	}
	for _, e := range entitlements {
		info.Entitlements = append(info.Entitlements, e.Feature)
	}
	return info, nil
}

// CatalogFeatures lists the purchasable features, sorted by name.
func (s *WalletService) CatalogFeatures() []catalog.Feature {
	return s.catalog.Features()
}

// refund is the compensating credit after a failed entitlement write. The
// debit already committed, so a refund failure leaves the ledger short; that
// divergence is loud in the logs and metrics but cannot fail the caller twice.
func (s *WalletService) refund(ctx context.Context, subject models.Subject, amount int64, feature string) {
	if err := s.wallets.Credit(ctx, subject, amount); err != nil {
		observability.AuditDivergences.Inc()
		slog.ErrorContext(ctx, "compensating credit failed, wallet balance diverged",
			"subject_type", subject.Type, "subject_id", subject.ID,
			"feature", feature, "amount", amount, "err", err)
	}
}

func validSubject(subject models.Subject) error {
	if !subject.Type.Valid() {
		return models.NewValidationError("subjectType must be authenticated or anonymous")
	}
	if err := validation.ValidateSubjectID(subject.ID); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}
