package types

// Capability represents a provider capability type
type Capability string

const (
	CapabilityChat      Capability = "chat"
	CapabilityEmbedding Capability = "embedding"
)

// Valid reports whether c is a capability this module knows how to serve
func (c Capability) Valid() bool {
	switch c {
	case CapabilityChat, CapabilityEmbedding:
		return true
	}
	return false
}
