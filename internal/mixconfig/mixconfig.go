// Package mixconfig holds the user-adjustable mixing parameters and the
// clamps that keep them within values the rest of the core can rely on
// (spec §5).
package mixconfig

import (
	"errors"
	"time"
)

// ErrNoDynamicFeeEstimates is returned by components that need a live fee
// estimate but the wallet has none yet (no mempool data, no blocks seen).
var ErrNoDynamicFeeEstimates = errors.New("mixconfig: no dynamic fee estimates available")

// Config is the full set of user-tunable mixing knobs, already clamped to
// their legal ranges by Normalize.
type Config struct {
	// KeepAmount is the balance, in whole coins, the wallet tries to keep
	// mixed at all times. Clamped to [2, 21000000].
	KeepAmount int64 `json:"keep_amount"`

	// MixRounds is how many times each denomination is passed through a
	// mixing session before it's considered "done". Clamped to [2, 16] on
	// mainnet, [2, 256] on testnet.
	MixRounds int `json:"mix_rounds"`

	// MaxSessions is how many denominations this wallet will mix
	// concurrently. Clamped to [1, 10].
	MaxSessions int `json:"max_sessions"`

	// KeypairTimeout bounds how long a reserved keypair may sit unused
	// before the keypair cache reclaims it. Clamped to [0, 5] minutes; 0
	// disables the timeout.
	KeypairTimeout time.Duration `json:"kp_timeout"`

	GroupHistory   bool `json:"group_history"`
	NotifyPSTxs    bool `json:"notify_ps_txs"`
	SubscribeSpent bool `json:"subscribe_spent"`
	AllowOthers    bool `json:"allow_others"`
}

// Default returns the out-of-the-box configuration (spec §5 defaults).
func Default() Config {
	return Config{
		KeepAmount:     2,
		MixRounds:      4,
		MaxSessions:    4,
		KeypairTimeout: time.Minute,
		GroupHistory:   true,
		NotifyPSTxs:    true,
		SubscribeSpent: true,
		AllowOthers:    false,
	}
}

// Normalize clamps every field of c to its legal range. maxMixRounds comes
// from the active network (16 mainnet, 256 testnet; netcfg.Params.MaxMixRounds).
func (c Config) Normalize(maxMixRounds int) Config {
	c.KeepAmount = clampInt64(c.KeepAmount, 2, 21000000)
	c.MixRounds = clampInt(c.MixRounds, 2, maxMixRounds)
	c.MaxSessions = clampInt(c.MaxSessions, 1, 10)
	if c.KeypairTimeout < 0 {
		c.KeypairTimeout = 0
	}
	if c.KeypairTimeout > 5*time.Minute {
		c.KeypairTimeout = 5 * time.Minute
	}
	return c
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
