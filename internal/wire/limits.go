package wire

// Limits enforced while parsing (spec §4.1). Over-limit vectors must be
// rejected before the backing slice is allocated.
const (
	MaxPayloadLength    = 32 * 1024 * 1024 // 32 MiB frame cap
	MaxUserAgentLen     = 256
	MaxAddrCount        = 1000
	MaxInvCount         = 50000
	MaxFilterLoadBytes  = 36000
	MaxFilterHashFuncs  = 50
	MaxFilterAddBytes   = 520
	MaxDSVecEntries     = mixMaxEntries
	SporkSigLen         = 65
	DSQSigLen           = 96
	DSTXSigLen          = 96
	CommandLen          = 12
	EmptyPayloadCkSum   = 0x5DF6E0E2
	ReadBufferSize      = 64 * 1024
)

// mixMaxEntries mirrors mixtypes.PrivateSendEntryMaxSize without importing
// pkg/mixtypes from this low-level package (avoids an import cycle risk
// once mixtypes grows wire-adjacent helpers).
const mixMaxEntries = 9
