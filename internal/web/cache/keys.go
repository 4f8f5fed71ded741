package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Key layout: "c:<collection>:rec:<id>" for single records,
// "c:<collection>:list:<signature>" for list responses. Invalidation
// drops the whole "c:<collection>:" group.

// CollectionPrefix returns the key group shared by every cached
// response for a collection.
func CollectionPrefix(collection string) string {
	return "c:" + collection + ":"
}

// RecordKey returns the cache key for a single record response.
func RecordKey(collection, id string) string {
	return CollectionPrefix(collection) + "rec:" + id
}

// ListKey returns the cache key for a list response with the given
// query signature.
func ListKey(collection, signature string) string {
	return CollectionPrefix(collection) + "list:" + signature
}

// QuerySignature canonicalizes query parameters into a short stable
// digest. Parameter order does not affect the result.
func QuerySignature(values url.Values) string {
	if len(values) == 0 {
		return "all"
	}

	var parts []string
	for key, vals := range values {
		sorted := append([]string(nil), vals...)
		sort.Strings(sorted)
		for _, v := range sorted {
			parts = append(parts, key+"="+v)
		}
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(sum[:8])
}
