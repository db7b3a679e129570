package analytics

import (
	"github.com/nicktill/adoptboard/pkg/config"
	"github.com/nicktill/adoptboard/pkg/dataset"
)

// Report names served by the dashboard.
const (
	ReportTitles     = "titles"
	ReportCategories = "categories"
	ReportRegions    = "regions"
	ReportUsers      = "users"
)

// Limits sets the leaderboard sizes.
type Limits struct {
	Titles     int
	Categories int
	Regions    int
	Users      int
}

// DefaultLimits returns the standard leaderboard sizes.
func DefaultLimits() Limits {
	return Limits{
		Titles:     config.DefaultTopTitles,
		Categories: config.DefaultTopCategories,
		Regions:    config.DefaultTopRegions,
		Users:      config.DefaultTopUsers,
	}
}

// TopTitles ranks course titles by distinct learners.
func TopTitles(n int) GroupSpec {
	return GroupSpec{
		Name:  ReportTitles,
		Title: "Top Titles by Email Count",
		Key:   dataset.FieldTitle,
		Aggs: []AggSpec{
			{Name: "email_count", Kind: Distinct, Field: dataset.FieldEmail},
		},
		SortBy: "email_count",
		Limit:  n,
	}
}

// TopCategories ranks course categories by distinct learners.
func TopCategories(n int) GroupSpec {
	return GroupSpec{
		Name:  ReportCategories,
		Title: "Top Categories by Email Count",
		Key:   dataset.FieldCategory,
		Aggs: []AggSpec{
			{Name: "email_count", Kind: Distinct, Field: dataset.FieldEmail},
		},
		SortBy: "email_count",
		Limit:  n,
	}
}

// TopRegions ranks regions by headcount and reports learning adoption,
// the share of the headcount that enrolled.
func TopRegions(n int) GroupSpec {
	return GroupSpec{
		Name:  ReportRegions,
		Title: "Top Wilayah",
		Key:   dataset.FieldRegion,
		Aggs: []AggSpec{
			{Name: "email_count", Kind: Distinct, Field: dataset.FieldEmail},
			{Name: "enrollment", Kind: Distinct, Field: dataset.FieldEmail, Where: dataset.FieldTransaction},
			{Name: "learning_adoption", Kind: Ratio, Num: "enrollment", Den: "email_count", Decimals: 2},
		},
		SortBy: "email_count",
		Limit:  n,
	}
}

// TopUsers ranks people by completed courses (progress of exactly 100).
func TopUsers(n int) GroupSpec {
	return GroupSpec{
		Name:  ReportUsers,
		Title: "Top Users by Progress 100 Count",
		Key:   dataset.FieldName,
		Aggs: []AggSpec{
			{Name: "title_count", Kind: Count, Field: dataset.FieldTitle},
			{Name: "progress_100_count", Kind: CountEq, Field: dataset.FieldProgress, Equals: 100},
		},
		SortBy: "progress_100_count",
		Limit:  n,
	}
}

// Reports returns the built-in leaderboards keyed by name.
func Reports(l Limits) map[string]GroupSpec {
	return map[string]GroupSpec{
		ReportTitles:     TopTitles(l.Titles),
		ReportCategories: TopCategories(l.Categories),
		ReportRegions:    TopRegions(l.Regions),
		ReportUsers:      TopUsers(l.Users),
	}
}
