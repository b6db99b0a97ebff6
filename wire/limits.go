package wire

// Default maximum declared payload length (64 MiB).
// Proof trees of large problems routinely exceed a few megabytes.
const DefaultMaxFrame int = 64 << 20

// MinReadSpace is the spare capacity guaranteed beyond the filled prefix of the
// receive buffer before every read.
const MinReadSpace int = 256

// Limits bounds what a FrameReader accepts from the engine
type Limits struct {
	MaxFrame int `yaml:"max_frame"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame: DefaultMaxFrame,
	}
}
