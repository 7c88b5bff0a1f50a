package ratelimit

import (
	"strconv"
	"sync/atomic"
)

var memberSeq atomic.Uint64

// nextMember disambiguates sorted-set members that share a timestamp.
func nextMember() string {
	return strconv.FormatUint(memberSeq.Add(1), 36)
}
