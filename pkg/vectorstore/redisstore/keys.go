package redisstore

import "fmt"

// Keys generates Redis keys with consistent naming
type Keys struct {
	prefix string
}

// NewKeys creates a new Keys generator
func NewKeys(prefix string) *Keys {
	return &Keys{prefix: prefix}
}

// Record returns the hash key holding one record
func (k *Keys) Record(id string) string {
	return fmt.Sprintf("%s:record:%s", k.prefix, id)
}

// Index returns the sorted set of record ids scored by sequence number
func (k *Keys) Index() string {
	return fmt.Sprintf("%s:records", k.prefix)
}

// Sequence returns the insertion counter key
func (k *Keys) Sequence() string {
	return fmt.Sprintf("%s:seq", k.prefix)
}
