package gateway

// DefaultFileSize is the per-file upload ceiling for bot accounts.
const DefaultFileSize int64 = 25 * 1024 * 1024

// Limits are the platform ceilings advertised for a target.
type Limits struct {
	Emojis   int
	Stickers int
	// Bitrate is the maximum voice bitrate in bits per second.
	Bitrate  int
	FileSize int64
}

var tierLimits = []Limits{
	{Emojis: 50, Stickers: 5, Bitrate: 96000},
	{Emojis: 100, Stickers: 15, Bitrate: 128000},
	{Emojis: 150, Stickers: 30, Bitrate: 256000},
	{Emojis: 250, Stickers: 60, Bitrate: 384000},
}

// TierLimits returns the limits for a premium tier (0-3). Out-of-range
// tiers are clamped.
func TierLimits(tier int) Limits {
	if tier < 0 {
		tier = 0
	}
	if tier >= len(tierLimits) {
		tier = len(tierLimits) - 1
	}
	l := tierLimits[tier]
	l.FileSize = DefaultFileSize
	return l
}
