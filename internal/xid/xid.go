// Package xid generates prefixed entity ids ("prod-", "lot-", "sale-") so a
// bare id in a log line still says what it identifies.
package xid

import "github.com/google/uuid"

func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
