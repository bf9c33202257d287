package retention

import (
	"testing"
	"time"

	"github.com/de-stash/dump2s3/cmd/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, date string) time.Time {
	t.Helper()
	parsed, err := Parse(date)
	require.NoError(t, err)
	return parsed
}

func formatAll(dates []time.Time) []string {
	formatted := make([]string, 0, len(dates))
	for _, d := range dates {
		formatted = append(formatted, d.Format(constants.DateFormat))
	}
	return formatted
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		wantErr bool
	}{
		{name: "valid", date: "2024-03-15"},
		{name: "not a date", date: "yesterday", wantErr: true},
		{name: "wrong layout", date: "15.03.2024", wantErr: true},
		{name: "empty", date: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.date)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.date, got.Format(constants.DateFormat))
		})
	}
}

func TestDaily(t *testing.T) {
	tests := []struct {
		name  string
		today string
		want  []string
	}{
		{
			name:  "mid-month",
			today: "2024-03-15",
			want:  []string{"2024-03-15", "2024-03-14", "2024-03-13", "2024-03-12", "2024-03-11", "2024-03-10", "2024-03-09"},
		},
		{
			name:  "across leap february",
			today: "2024-03-02",
			want:  []string{"2024-03-02", "2024-03-01", "2024-02-29", "2024-02-28", "2024-02-27", "2024-02-26", "2024-02-25"},
		},
		{
			name:  "across new year",
			today: "2024-01-03",
			want:  []string{"2024-01-03", "2024-01-02", "2024-01-01", "2023-12-31", "2023-12-30", "2023-12-29", "2023-12-28"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Daily(mustDate(t, tt.today))
			assert.Equal(t, tt.want, formatAll(got))
		})
	}
}

func TestWeekly(t *testing.T) {
	tests := []struct {
		name  string
		today string
		want  []string
	}{
		{
			name:  "mid-march reference date",
			today: "2024-03-15",
			want:  []string{"2024-03-08", "2024-03-01", "2024-02-22", "2024-02-15"},
		},
		{
			name:  "anchor right before a weekly day",
			today: "2024-03-23",
			want:  []string{"2024-03-22", "2024-03-15", "2024-03-08", "2024-03-01"},
		},
		{
			name:  "across new year",
			today: "2024-01-05",
			want:  []string{"2024-01-01", "2023-12-22", "2023-12-15", "2023-12-08"},
		},
		{
			name:  "today itself is excluded from the walk",
			today: "2024-03-22",
			want:  []string{"2024-03-15", "2024-03-08", "2024-03-01", "2024-02-22"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Weekly(mustDate(t, tt.today))
			assert.Equal(t, tt.want, formatAll(got))
		})
	}

	t.Run("properties hold for arbitrary dates", func(t *testing.T) {
		for day := mustDate(t, "2024-01-01"); day.Year() == 2024; day = day.AddDate(0, 0, 1) {
			got := Weekly(day)
			require.Len(t, got, 4)
			for i, d := range got {
				assert.Contains(t, []int{1, 8, 15, 22}, d.Day())
				assert.True(t, d.Before(day), "weekly date %s not before reference %s", d, day)
				if i > 0 {
					assert.True(t, d.Before(got[i-1]), "weekly dates not strictly decreasing at %s", day)
				}
			}
		}
	})
}

func TestMonthly(t *testing.T) {
	tests := []struct {
		name   string
		anchor string
		want   []string
	}{
		{
			name:   "mid-month anchor",
			anchor: "2024-02-15",
			want:   []string{"2024-02-01", "2024-01-01", "2023-12-01"},
		},
		{
			name:   "year wraps at january",
			anchor: "2024-01-08",
			want:   []string{"2024-01-01", "2023-12-01", "2023-11-01"},
		},
		{
			name:   "anchor on the first steps into the previous month",
			anchor: "2024-03-01",
			want:   []string{"2024-02-01", "2024-01-01", "2023-12-01"},
		},
		{
			name:   "late in the year",
			anchor: "2023-12-08",
			want:   []string{"2023-12-01", "2023-11-01", "2023-10-01"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Monthly(mustDate(t, tt.anchor))
			assert.Equal(t, tt.want, formatAll(got))

			for i, d := range got {
				assert.Equal(t, 1, d.Day())
				if i > 0 {
					assert.True(t, d.Before(got[i-1]))
				}
			}
		})
	}
}

func TestComputeKeepDates(t *testing.T) {
	tests := []struct {
		name  string
		today string
		want  []string
	}{
		{
			name:  "all tiers disjoint",
			today: "2024-03-15",
			want: []string{
				"2023-12-01", "2024-01-01", "2024-02-01",
				"2024-02-15", "2024-02-22", "2024-03-01", "2024-03-08",
				"2024-03-09", "2024-03-10", "2024-03-11", "2024-03-12", "2024-03-13", "2024-03-14", "2024-03-15",
			},
		},
		{
			name:  "weekly date collapsing into the daily window",
			today: "2024-03-10",
			want: []string{
				"2023-12-01", "2024-01-01", "2024-02-01",
				"2024-02-15", "2024-02-22", "2024-03-01",
				"2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08", "2024-03-09", "2024-03-10",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeKeepDates(mustDate(t, tt.today))
			assert.Equal(t, tt.want, got.Dates())

			for _, d := range tt.want {
				assert.True(t, got.Contains(d))
			}
			assert.False(t, got.Contains("2020-01-01"))
		})
	}

	t.Run("deterministic", func(t *testing.T) {
		today := mustDate(t, "2024-03-15")
		assert.Equal(t, ComputeKeepDates(today).Dates(), ComputeKeepDates(today).Dates())
	})

	t.Run("cardinality is data dependent", func(t *testing.T) {
		for day := mustDate(t, "2024-01-01"); day.Year() == 2024; day = day.AddDate(0, 0, 1) {
			got := ComputeKeepDates(day)
			assert.GreaterOrEqual(t, got.Len(), 11, "keep set too small for %s", day)
			assert.LessOrEqual(t, got.Len(), 14, "keep set too large for %s", day)

			for _, daily := range Daily(day) {
				assert.True(t, got.Contains(daily.Format(constants.DateFormat)))
			}
		}
	})
}
