package calendar

import "math"

// Bucket is an inclusive overdue-day range. A nil MaxDays is open ended.
type Bucket struct {
	Label   string
	MinDays int
	MaxDays *int
}

// AgingBucket returns the label of the first bucket that contains dueByDays.
func AgingBucket(dueByDays int, buckets []Bucket) string {
	for _, bucket := range buckets {
		if dueByDays < bucket.MinDays {
			continue
		}
		if bucket.MaxDays != nil && dueByDays > *bucket.MaxDays {
			continue
		}
		return bucket.Label
	}
	if dueByDays <= 0 {
		return "current"
	}
	return "unbucketed"
}

// DefaultBuckets are the standard receivable aging ranges.
func DefaultBuckets() []Bucket {
	thirty, sixty, ninety, zero := 30, 60, 90, 0
	return []Bucket{
		{Label: "current", MinDays: math.MinInt32, MaxDays: &zero},
		{Label: "1-30", MinDays: 1, MaxDays: &thirty},
		{Label: "31-60", MinDays: 31, MaxDays: &sixty},
		{Label: "61-90", MinDays: 61, MaxDays: &ninety},
		{Label: "90+", MinDays: 91},
	}
}
