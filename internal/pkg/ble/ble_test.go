package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

func TestFindCharacteristic(t *testing.T) {
	other := uuid.MustParse("0000180f-0000-1000-8000-00805f9b34fb")
	tests := map[string]struct {
		services []Service
		wantSvc  bool
		wantChar bool
	}{
		"present": {
			services: []Service{
				{UUID: other},
				{UUID: model.ClockServiceUUID, Characteristics: []Characteristic{{UUID: other}, {UUID: model.ClockCharacteristicUUID}}},
			},
			wantSvc:  true,
			wantChar: true,
		},
		"no service": {
			services: []Service{{UUID: other, Characteristics: []Characteristic{{UUID: model.ClockCharacteristicUUID}}}},
		},
		"no characteristic": {
			services: []Service{{UUID: model.ClockServiceUUID, Characteristics: []Characteristic{{UUID: other}}}},
			wantSvc:  true,
		},
		"nothing": {},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c, hasSvc, hasChar := FindCharacteristic(tt.services, model.ClockServiceUUID, model.ClockCharacteristicUUID)
			assert.Equal(t, tt.wantSvc, hasSvc)
			assert.Equal(t, tt.wantChar, hasChar)
			if tt.wantChar {
				assert.Equal(t, model.ClockCharacteristicUUID, c.UUID)
			}
		})
	}
}

func TestRunWithContext(t *testing.T) {
	v, err := runWithContext(context.Background(), func() (int, error) {
		return 5, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	boom := errors.New("boom")
	_, err = runWithContext(context.Background(), func() (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)
	_, err = runWithContext(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
