package orchestrator

import (
	"context"
	"fmt"

	"github.com/lumen-social/trustcore/internal/behavior"
	"github.com/lumen-social/trustcore/internal/consent"
	"github.com/lumen-social/trustcore/internal/riskprofile"
)

// absent is the universal "nothing to report" answer.
var absent = ProviderSignal{}

// ProfileSource reads a stored risk profile.
type ProfileSource interface {
	Get(ctx context.Context, userID string) (*riskprofile.Profile, error)
}

// TrustScoreProvider reports the user's standing risk profile level.
type TrustScoreProvider struct {
	profiles ProfileSource
}

// NewTrustScoreProvider creates the trust score gatherer.
func NewTrustScoreProvider(profiles ProfileSource) *TrustScoreProvider {
	return &TrustScoreProvider{profiles: profiles}
}

func (p *TrustScoreProvider) Domain() Domain { return DomainTrustScore }

func (p *TrustScoreProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	profile, err := p.profiles.Get(ctx, req.UserID)
	if err == riskprofile.ErrNotFound {
		return absent, nil
	}
	if err != nil {
		return absent, err
	}
	if profile.Level == riskprofile.LevelNone {
		return absent, nil
	}
	return ProviderSignal{
		Present:    true,
		Level:      SignalLevel(profile.Level.String()),
		Confidence: profile.Confidence,
		Details:    fmt.Sprintf("risk profile score %.1f", profile.Score),
	}, nil
}

// StatusSource reads a user's account enforcement status.
type StatusSource interface {
	AccountStatus(ctx context.Context, userID string) (string, error)
}

// EnforcementStatusProvider reports active enforcement against the user.
type EnforcementStatusProvider struct {
	status StatusSource
}

// NewEnforcementStatusProvider creates the enforcement status gatherer.
func NewEnforcementStatusProvider(status StatusSource) *EnforcementStatusProvider {
	return &EnforcementStatusProvider{status: status}
}

func (p *EnforcementStatusProvider) Domain() Domain { return DomainEnforcement }

func (p *EnforcementStatusProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	status, err := p.status.AccountStatus(ctx, req.UserID)
	if err != nil {
		return absent, err
	}
	switch status {
	case riskprofile.StatusRestricted:
		return ProviderSignal{Present: true, Level: SignalCritical, Confidence: 1.0, Details: "account restricted"}, nil
	case riskprofile.StatusVerificationRequired:
		return ProviderSignal{Present: true, Level: SignalMedium, Confidence: 1.0, Details: "verification required"}, nil
	default:
		return absent, nil
	}
}

// BypassSource detects repeated near-miss content flags.
type BypassSource interface {
	DetectPolicyBypass(ctx context.Context, userID string, lookbackMonths int) (bool, int, error)
}

// ContentViolationProvider reports content-policy near-miss history.
type ContentViolationProvider struct {
	bypass BypassSource
}

// NewContentViolationProvider creates the content violation gatherer.
func NewContentViolationProvider(bypass BypassSource) *ContentViolationProvider {
	return &ContentViolationProvider{bypass: bypass}
}

func (p *ContentViolationProvider) Domain() Domain { return DomainContent }

func (p *ContentViolationProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	suspected, nearMisses, err := p.bypass.DetectPolicyBypass(ctx, req.UserID, 6)
	if err != nil {
		return absent, err
	}
	if !suspected {
		return absent, nil
	}
	level := SignalMedium
	if nearMisses >= 6 {
		level = SignalHigh
	}
	return ProviderSignal{
		Present:    true,
		Level:      level,
		Confidence: 0.7,
		Details:    fmt.Sprintf("%d near-miss content flags", nearMisses),
	}, nil
}

// PatternSource supplies current behavior patterns.
type PatternSource interface {
	DetectPatterns(ctx context.Context, userID string, lookbackMonths int) ([]behavior.Pattern, error)
}

// RelationshipBehaviorProvider reports harassment-shaped patterns.
type RelationshipBehaviorProvider struct {
	patterns PatternSource
}

// NewRelationshipBehaviorProvider creates the relationship gatherer.
func NewRelationshipBehaviorProvider(patterns PatternSource) *RelationshipBehaviorProvider {
	return &RelationshipBehaviorProvider{patterns: patterns}
}

func (p *RelationshipBehaviorProvider) Domain() Domain { return DomainRelationship }

func (p *RelationshipBehaviorProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	patterns, err := p.patterns.DetectPatterns(ctx, req.UserID, 6)
	if err != nil {
		return absent, err
	}
	best := absent
	for _, pat := range patterns {
		if pat.Type != behavior.EventHarassment && pat.Type != behavior.EventPressure {
			continue
		}
		sig := ProviderSignal{
			Present:    true,
			Level:      patternLevel(pat),
			Confidence: pat.Confidence,
			Details:    fmt.Sprintf("%s x%d, %s", pat.Type, pat.Frequency, pat.Trend),
		}
		if !best.Present || levelRank(sig.Level) > levelRank(best.Level) {
			best = sig
		}
	}
	return best, nil
}

// FraudHistoryProvider reports fraud-shaped patterns.
type FraudHistoryProvider struct {
	patterns PatternSource
}

// NewFraudHistoryProvider creates the fraud history gatherer.
func NewFraudHistoryProvider(patterns PatternSource) *FraudHistoryProvider {
	return &FraudHistoryProvider{patterns: patterns}
}

func (p *FraudHistoryProvider) Domain() Domain { return DomainFraud }

func (p *FraudHistoryProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	patterns, err := p.patterns.DetectPatterns(ctx, req.UserID, 12)
	if err != nil {
		return absent, err
	}
	best := absent
	for _, pat := range patterns {
		if !behavior.FraudTypes[pat.Type] {
			continue
		}
		sig := ProviderSignal{
			Present:    true,
			Level:      patternLevel(pat),
			Confidence: pat.Confidence,
			Details:    fmt.Sprintf("%s x%d", pat.Type, pat.Frequency),
		}
		if !best.Present || levelRank(sig.Level) > levelRank(best.Level) {
			best = sig
		}
	}
	return best, nil
}

// patternLevel grades a behavior pattern by frequency and trend.
func patternLevel(p behavior.Pattern) SignalLevel {
	switch {
	case p.Frequency >= 10 && p.Trend == behavior.TrendWorsening:
		return SignalCritical
	case p.Frequency >= 6 || p.Trend == behavior.TrendWorsening:
		return SignalHigh
	case p.Frequency >= 3:
		return SignalMedium
	default:
		return SignalLow
	}
}

func levelRank(l SignalLevel) int {
	switch l {
	case SignalCritical:
		return 4
	case SignalHigh:
		return 3
	case SignalMedium:
		return 2
	case SignalLow:
		return 1
	default:
		return 0
	}
}

// ConsentSource reads one pair's consent record.
type ConsentSource interface {
	Get(ctx context.Context, a, b string) (*consent.Record, error)
}

// ConsentViolationProvider reports a degraded consent state between the
// assessed user and the counterpart.
type ConsentViolationProvider struct {
	consent ConsentSource
}

// NewConsentViolationProvider creates the consent violation gatherer.
func NewConsentViolationProvider(consentSvc ConsentSource) *ConsentViolationProvider {
	return &ConsentViolationProvider{consent: consentSvc}
}

func (p *ConsentViolationProvider) Domain() Domain { return DomainConsent }

func (p *ConsentViolationProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	if req.CounterpartID == "" {
		return absent, nil
	}
	rec, err := p.consent.Get(ctx, req.UserID, req.CounterpartID)
	if err == consent.ErrNotFound {
		return absent, nil
	}
	if err != nil {
		return absent, err
	}
	switch rec.State {
	case consent.StateRevoked:
		return ProviderSignal{Present: true, Level: SignalHigh, Confidence: 1.0, Details: "contact with revoked pair"}, nil
	case consent.StatePaused:
		return ProviderSignal{Present: true, Level: SignalMedium, Confidence: 1.0, Details: "consent paused"}, nil
	default:
		return absent, nil
	}
}

// RegionalPolicyProvider reports jurisdiction flags from a static table.
type RegionalPolicyProvider struct {
	flags map[string]SignalLevel
}

// NewRegionalPolicyProvider creates the regional policy gatherer.
// flags maps region codes with heightened requirements to a signal level.
func NewRegionalPolicyProvider(flags map[string]SignalLevel) *RegionalPolicyProvider {
	return &RegionalPolicyProvider{flags: flags}
}

func (p *RegionalPolicyProvider) Domain() Domain { return DomainRegional }

func (p *RegionalPolicyProvider) Gather(ctx context.Context, req AssessRequest) (ProviderSignal, error) {
	if req.Region == "" {
		return absent, nil
	}
	level, ok := p.flags[req.Region]
	if !ok {
		return absent, nil
	}
	return ProviderSignal{
		Present:    true,
		Level:      level,
		Confidence: 1.0,
		Details:    "regional policy flag for " + req.Region,
	}, nil
}
