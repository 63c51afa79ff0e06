package coreplugins

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/keshon/salabot/internal/plugin"
)

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Second, "5 seconds"},
		{2*time.Minute + 5*time.Second, "2 mins, 5 seconds"},
		{3*time.Hour + 5*time.Second, "3 hrs, 0 mins, 5 seconds"},
		{49*time.Hour + time.Minute, "2 days, 1 hrs, 1 mins, 0 seconds"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanDuration(tt.in))
	}
}

func TestModuleIsValid(t *testing.T) {
	for _, def := range Module() {
		_, err := plugin.New(def)
		assert.NoError(t, err, def.Name)
	}
}
