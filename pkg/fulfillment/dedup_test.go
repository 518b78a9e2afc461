package fulfillment

import (
	"reflect"
	"testing"

	"github.com/TropTix/troptix/pkg/domain"
)

func TestDeduplicateFirstOccurrenceWins(t *testing.T) {
	in := []domain.CandidateRecord{
		{Email: "A@x.com", FirstName: "Ann", LastName: "Lee"},
		{Email: "a@x.com", FirstName: "Other", LastName: "Person"},
		{Email: " A@x.com ", FirstName: "Third", LastName: "Person"},
		{Email: "b@x.com", FirstName: " Bo ", LastName: "Diaz"},
	}

	got, dups := Deduplicate(in)
	want := []domain.Recipient{
		{Email: "A@x.com", FirstName: "Ann", LastName: "Lee"},
		{Email: "b@x.com", FirstName: "Bo", LastName: "Diaz"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("recipients = %+v, want %+v", got, want)
	}
	if !reflect.DeepEqual(dups, []string{"a@x.com", " A@x.com "}) {
		t.Fatalf("duplicates = %q", dups)
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	in := []domain.CandidateRecord{
		{Email: "c@x.com"}, {Email: "C@X.COM"}, {Email: "d@x.com"}, {Email: "c@x.com "},
	}
	once, _ := Deduplicate(in)

	again := make([]domain.CandidateRecord, len(once))
	for i, r := range once {
		again[i] = domain.CandidateRecord{Email: r.Email, FirstName: r.FirstName, LastName: r.LastName}
	}
	twice, dups := Deduplicate(again)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second pass = %+v, want %+v", twice, once)
	}
	if len(dups) != 0 {
		t.Fatalf("second pass found duplicates %q", dups)
	}
}

func TestDeduplicateEmpty(t *testing.T) {
	got, dups := Deduplicate(nil)
	if len(got) != 0 || len(dups) != 0 {
		t.Fatalf("got %v, %v", got, dups)
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{n: 0, size: 50, want: nil},
		{n: 1, size: 50, want: []int{1}},
		{n: 50, size: 50, want: []int{50}},
		{n: 100, size: 50, want: []int{50, 50}},
		{n: 101, size: 50, want: []int{50, 50, 1}},
		{n: 250, size: 100, want: []int{100, 100, 50}},
	}
	for _, tc := range tests {
		items := make([]int, tc.n)
		for i := range items {
			items[i] = i
		}
		groups := Chunk(items, tc.size)

		var sizes []int
		var flat []int
		for _, g := range groups {
			sizes = append(sizes, len(g))
			flat = append(flat, g...)
		}
		if !reflect.DeepEqual(sizes, tc.want) {
			t.Errorf("Chunk(%d, %d) sizes = %v, want %v", tc.n, tc.size, sizes, tc.want)
		}
		if tc.n > 0 && !reflect.DeepEqual(flat, items) {
			t.Errorf("Chunk(%d, %d) does not preserve order", tc.n, tc.size)
		}
	}
}

func TestChunkGroupsDoNotAlias(t *testing.T) {
	items := []int{1, 2, 3, 4}
	groups := Chunk(items, 2)
	groups[0] = append(groups[0], 99)
	if items[2] != 3 {
		t.Fatalf("append to first group overwrote the second: %v", items)
	}
}
