package jobmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_CronExpressionsOneEntryPerTime(t *testing.T) {
	s := Schedule{
		Days:  map[string]bool{"monday": true, "wednesday": true, "friday": true},
		Times: []string{"09:30", "15:45"},
	}
	exprs, err := s.cronExpressions()
	require.NoError(t, err)
	require.Len(t, exprs, 2)
	assert.Contains(t, exprs[0], "30 9")
	assert.Contains(t, exprs[1], "45 15")
	assert.Contains(t, exprs[0], "1,3,5")
}

func TestSchedule_NoEnabledDayErrors(t *testing.T) {
	s := Schedule{Days: map[string]bool{"monday": false}, Times: []string{"09:00"}}
	_, err := s.cronExpressions()
	assert.Error(t, err)
}

func TestSchedule_NoTimesErrors(t *testing.T) {
	s := Schedule{Days: map[string]bool{"monday": true}}
	_, err := s.cronExpressions()
	assert.Error(t, err)
}

func TestSchedule_InvalidTimeErrors(t *testing.T) {
	s := Schedule{Days: map[string]bool{"monday": true}, Times: []string{"25:00"}}
	_, err := s.cronExpressions()
	assert.Error(t, err)
}

func TestSchedule_UnknownWeekdayErrors(t *testing.T) {
	s := Schedule{Days: map[string]bool{"funday": true}, Times: []string{"09:00"}}
	_, err := s.cronExpressions()
	assert.Error(t, err)
}
