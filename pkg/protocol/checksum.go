package protocol

import (
	"crypto/sha1"
	"encoding/hex"
)

// ChecksumFor computes the v1/v2 authentication digest for a request:
// the hex SHA1 over the UTF-8 byte concatenation of
//
//	repo_id ‖ revision ‖ changes[0] ‖ … ‖ log ‖ author
//	        ‖ (branch if present) ‖ (module if present) ‖ password
//
// with no separators and no length prefixes. rev_prefix is deliberately
// excluded: v2 reuses the v1 digest unchanged.
func ChecksumFor(r *CommitRequest, password string) string {
	h := sha1.New()
	h.Write([]byte(r.RepoID))
	h.Write([]byte(r.Revision))
	for _, c := range r.Changes {
		h.Write([]byte(c))
	}
	h.Write([]byte(r.Log))
	h.Write([]byte(r.Author))
	if r.Branch != nil {
		h.Write([]byte(*r.Branch))
	}
	if r.Module != nil {
		h.Write([]byte(*r.Module))
	}
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}
