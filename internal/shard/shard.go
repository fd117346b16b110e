// Package shard provides partition key generation for unique-key constraint rows.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// UniqueKeyPK computes a hash-distributed partition key for one composite unique key
// of a document. Each component is length prefixed so that different splits of the
// same characters never hash alike. paths and values are paired by index.
func UniqueKeyPK(table, partitionKey string, paths, values []string) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(table)
	write(partitionKey)
	for i, p := range paths {
		write(p)
		if i < len(values) {
			write(values[i])
		} else {
			write("")
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16]) // 128-bit hash as hex
}
