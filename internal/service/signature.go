package service

import (
	"github.com/pulse/pulse/internal/config"
	"github.com/pulse/pulse/internal/models"
)

// Tier selects which key pair signs an account's tokens.
type Tier int

const (
	TierStandard Tier = iota
	TierElevated
)

// Authorization header markers, one per tier.
const (
	MarkerStandard = "Bearer"
	MarkerElevated = "System"
)

func (t Tier) Marker() string {
	if t == TierElevated {
		return MarkerElevated
	}
	return MarkerStandard
}

func (t Tier) String() string {
	if t == TierElevated {
		return "elevated"
	}
	return "standard"
}

// TierForRole maps admins and super-admins to the elevated tier and
// everything else to the standard tier.
func TierForRole(role models.Role) Tier {
	switch role {
	case models.RoleAdmin, models.RoleSuperAdmin:
		return TierElevated
	default:
		return TierStandard
	}
}

// TierFromMarker parses the first word of an Authorization header.
func TierFromMarker(marker string) (Tier, bool) {
	switch marker {
	case MarkerStandard:
		return TierStandard, true
	case MarkerElevated:
		return TierElevated, true
	default:
		return TierStandard, false
	}
}

// Purpose is what a token may be used for.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

type KeyPair struct {
	Access  []byte
	Refresh []byte
}

func (p KeyPair) For(purpose Purpose) []byte {
	if purpose == PurposeRefresh {
		return p.Refresh
	}
	return p.Access
}

// SigningKeys is loaded once at startup and never modified.
type SigningKeys struct {
	standard KeyPair
	elevated KeyPair
}

func NewSigningKeys(cfg config.JWTConfig) SigningKeys {
	return SigningKeys{
		standard: KeyPair{
			Access:  []byte(cfg.StandardAccessSecret),
			Refresh: []byte(cfg.StandardRefreshSecret),
		},
		elevated: KeyPair{
			Access:  []byte(cfg.ElevatedAccessSecret),
			Refresh: []byte(cfg.ElevatedRefreshSecret),
		},
	}
}

func (k SigningKeys) Pair(tier Tier) KeyPair {
	if tier == TierElevated {
		return k.elevated
	}
	return k.standard
}

func (k SigningKeys) Key(tier Tier, purpose Purpose) []byte {
	return k.Pair(tier).For(purpose)
}
