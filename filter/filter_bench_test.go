package filter

import (
	"testing"
)

// BenchmarkFilter_Allows_NoFilters benchmarks the filter when no filters are active
func BenchmarkFilter_Allows_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("Inbox/Projects", "Status update for the quarterly review")
	}
}

// BenchmarkFilter_Allows_WithIncludeFilter benchmarks the filter with include patterns
func BenchmarkFilter_Allows_WithIncludeFilter(b *testing.B) {
	f, err := New(Options{
		IncludeFolder:  []string{"^Inbox(/|$)"},
		IncludeSubject: []string{"(?i)invoice"},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("Sent Items", "Status update for the quarterly review")
	}
}

// BenchmarkFilter_Allows_WithExcludeFilter benchmarks the filter with exclude patterns
func BenchmarkFilter_Allows_WithExcludeFilter(b *testing.B) {
	f, err := New(Options{
		ExcludeFolder:  []string{"^Junk", "^Deleted Items"},
		ExcludeSubject: []string{"(?i)newsletter", "(?i)unsubscribe"},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows("Inbox/Projects", "Status update for the quarterly review")
	}
}
