package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"
)

// StringPtrToPgtext converts *string to pgtype.Text
func StringPtrToPgtext(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

// PgtextToStringPtr converts pgtype.Text to *string
func PgtextToStringPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	v := t.String
	return &v
}

// Float64PtrToPgFloat8 converts *float64 to pgtype.Float8
func Float64PtrToPgFloat8(f *float64) pgtype.Float8 {
	if f == nil {
		return pgtype.Float8{}
	}
	return pgtype.Float8{Float64: *f, Valid: true}
}

// PgFloat8ToFloat64Ptr converts pgtype.Float8 to *float64
func PgFloat8ToFloat64Ptr(f pgtype.Float8) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

// TimeToPgtimestamptz converts time.Time to pgtype.Timestamptz
func TimeToPgtimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

// PgtimestamptzToTime converts pgtype.Timestamptz to time.Time (UTC)
func PgtimestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// Float32sToVector converts []float32 to pgvector.Vector
func Float32sToVector(v []float32) pgvector.Vector {
	return pgvector.NewVector(v)
}
