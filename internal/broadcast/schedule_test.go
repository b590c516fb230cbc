package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "broadcast-dispatch/internal/common/errors"
)

func TestParseStartDate(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		tz      string
		want    time.Time
		wantErr stderrors.ErrorCode
	}{
		{"utc instant", "2026-05-04T10:00:01Z", "", time.Date(2026, 5, 4, 10, 0, 1, 0, time.UTC), ""},
		{"offset wins over tz", "2026-05-04T12:00:00+02:00", "America/Sao_Paulo", time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), stderrors.ErrCodeInvalidSchedule},
		{"date only in tz", "2026-05-05", "Asia/Tokyo", time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC), ""},
		{"minutes precision", "2026-05-04 18:30", "Europe/Lisbon", time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC), ""},
		{"empty tz is utc", "2026-05-04T09:59:59", "", time.Time{}, stderrors.ErrCodeInvalidSchedule},
		{"bad format", "04/05/2026", "UTC", time.Time{}, stderrors.ErrCodeInvalidSchedule},
		{"bad zone", "2026-05-05", "Nowhere/City", time.Time{}, stderrors.ErrCodeInvalidTimezone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStartDate(tt.raw, tt.tz, now)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, stderrors.HasCode(err, tt.wantErr), err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
