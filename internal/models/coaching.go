package models

import (
	"time"

	"github.com/lib/pq"
)

// CoachingRule maps an accumulated point band to a non-binding internal
// coaching recommendation. Bands may legitimately contain gaps; the lower
// band holds a gap until the next band's minimum is reached.
type CoachingRule struct {
	ID              string         `db:"id" json:"id"`
	PointsMin       int            `db:"points_min" json:"points_min"`
	PointsMax       *int           `db:"points_max" json:"points_max,omitempty"`
	SupervisorRoles pq.StringArray `db:"supervisor_roles" json:"supervisor_roles"`
	Description     string         `db:"description" json:"description"`
	DisplayOrder    int            `db:"display_order" json:"display_order"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// CoachingRecommendation is the advisory output for a student's point total.
// It never creates a case or a letter.
type CoachingRecommendation struct {
	Roles       []string `json:"roles"`
	Description string   `json:"description"`
	RangeText   string   `json:"range_text"`
}

// StudentDisciplineSummary is the point/recommendation payload consumed by
// student profile views.
type StudentDisciplineSummary struct {
	StudentID      string                  `json:"student_id"`
	TotalPoints    int                     `json:"total_points"`
	RecordCount    int                     `json:"record_count"`
	Recommendation *CoachingRecommendation `json:"recommendation,omitempty"`
	ActiveCase     *FollowUpCase           `json:"active_case,omitempty"`
}
