package fulfillment

import (
	"strings"

	"github.com/TropTix/troptix/pkg/domain"
)

// Deduplicate collapses records to one recipient per case-insensitive,
// trimmed email. The first occurrence wins and input order is kept. The raw
// addresses of dropped records are returned in the order they were seen.
func Deduplicate(records []domain.CandidateRecord) ([]domain.Recipient, []string) {
	seen := make(map[string]struct{}, len(records))
	recipients := make([]domain.Recipient, 0, len(records))
	var duplicates []string
	for _, rec := range records {
		key := identityKey(rec.Email)
		if _, dup := seen[key]; dup {
			duplicates = append(duplicates, rec.Email)
			continue
		}
		seen[key] = struct{}{}
		recipients = append(recipients, domain.Recipient{
			Email:     strings.TrimSpace(rec.Email),
			FirstName: strings.TrimSpace(rec.FirstName),
			LastName:  strings.TrimSpace(rec.LastName),
		})
	}
	return recipients, duplicates
}

func identityKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Chunk splits items into contiguous groups of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}
