package filter

import (
	"testing"

	"github.com/dhcgn/oft-to-eml/model"
)

func benchRecord() *model.Record {
	return &model.Record{
		Sender:    "test@example.com",
		To:        "user@example.com",
		Subject:   "Test",
		PlainBody: "This is a test message body with some content.",
	}
}

// BenchmarkFilter_Allows_NoFilters benchmarks the filter when no filters are active
func BenchmarkFilter_Allows_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}

	rec := benchRecord()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(rec)
	}
}

// BenchmarkFilter_Allows_WithIncludeFilter benchmarks the filter with include patterns
func BenchmarkFilter_Allows_WithIncludeFilter(b *testing.B) {
	f, err := New(Options{
		Include: []string{"From:.*@example\\.com"},
	})
	if err != nil {
		b.Fatal(err)
	}

	rec := benchRecord()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(rec)
	}
}

// BenchmarkFilter_Allows_WithExcludeFilter benchmarks the filter with exclude patterns
func BenchmarkFilter_Allows_WithExcludeFilter(b *testing.B) {
	f, err := New(Options{
		Exclude: []string{"From:.*@spam\\.com"},
	})
	if err != nil {
		b.Fatal(err)
	}

	rec := benchRecord()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(rec)
	}
}

// BenchmarkFilter_Allows_MultiplePatterns benchmarks with multiple regex patterns
func BenchmarkFilter_Allows_MultiplePatterns(b *testing.B) {
	f, err := New(Options{
		Include: []string{
			"From:.*@example\\.com",
			"Subject:.*Test.*",
			"To:.*user.*",
		},
	})
	if err != nil {
		b.Fatal(err)
	}

	rec := benchRecord()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(rec)
	}
}

// BenchmarkSearchText benchmarks the record text synthesis
func BenchmarkSearchText(b *testing.B) {
	rec := benchRecord()
	rec.Attachments = []model.Attachment{
		{LongFilename: "a.pdf", Data: []byte{1}},
		{LongFilename: "b.png", Data: []byte{1}, ContentID: "img1"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SearchText(rec)
	}
}
