// Package id generates prefixed identifiers for engine entities.
//
// Identifiers have the form "prefix_suffix" where the suffix is an xid:
// globally unique, K-sortable by creation time and URL-safe. Jobs created
// by the surrounding application may carry any string identifier; these
// helpers are used for entities the engine creates itself.
package id

import (
	"fmt"
	"strings"

	"github.com/rs/xid"
)

// Prefix identifies the entity type encoded in an identifier.
type Prefix string

// Prefix constants for engine-created entities.
const (
	PrefixJob        Prefix = "job"
	PrefixDeploy     Prefix = "dep"
	PrefixSubscriber Prefix = "sub"
)

// New generates a new unique identifier with the given prefix.
func New(prefix Prefix) string {
	return string(prefix) + "_" + xid.New().String()
}

// NewJobID generates a new unique job identifier.
func NewJobID() string { return New(PrefixJob) }

// NewDeployID generates a new unique deploy identifier.
func NewDeployID() string { return New(PrefixDeploy) }

// NewSubscriberID generates a new unique stream subscriber identifier.
func NewSubscriberID() string { return New(PrefixSubscriber) }

// Parse splits an identifier into its prefix and xid suffix.
func Parse(s string) (Prefix, xid.ID, error) {
	idx := strings.LastIndexByte(s, '_')
	if idx <= 0 || idx == len(s)-1 {
		return "", xid.NilID(), fmt.Errorf("id: parse %q: missing prefix", s)
	}
	suffix, err := xid.FromString(s[idx+1:])
	if err != nil {
		return "", xid.NilID(), fmt.Errorf("id: parse %q: %w", s, err)
	}
	return Prefix(s[:idx]), suffix, nil
}

// ParseWithPrefix parses an identifier and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (xid.ID, error) {
	prefix, suffix, err := Parse(s)
	if err != nil {
		return xid.NilID(), err
	}
	if prefix != expected {
		return xid.NilID(), fmt.Errorf("id: expected prefix %q, got %q", expected, prefix)
	}
	return suffix, nil
}
