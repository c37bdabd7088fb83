package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

type MockPublisher struct {
	WriteFunc          func(ctx context.Context, data []model.SensorState) error
	RegisterDeviceFunc func(device model.SensorDevice) error

	mu         sync.Mutex
	written    []model.SensorState
	registered []model.SensorDevice
}

func (m *MockPublisher) Write(ctx context.Context, data []model.SensorState) error {
	m.mu.Lock()
	m.written = append(m.written, data...)
	m.mu.Unlock()
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, data)
	}
	return nil
}

func (m *MockPublisher) RegisterDevice(device model.SensorDevice) error {
	m.mu.Lock()
	m.registered = append(m.registered, device)
	m.mu.Unlock()
	if m.RegisterDeviceFunc != nil {
		return m.RegisterDeviceFunc(device)
	}
	return nil
}

func newService(t *testing.T) *service {
	t.Helper()
	undo := zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(undo)
	return New()
}

func TestIdentifier(t *testing.T) {
	tests := map[string]struct {
		device Device
		want   string
	}{
		"named":   {device: Device{Name: "Living Room"}, want: "living_room"},
		"unnamed": {device: Device{Address: model.MustParseAddress("A4:C1:38:0B:5E:ED")}, want: "mijia_a4c1380b5eed"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, Identifier(tc.device))
		})
	}
}

func TestRegisterPublisher_Duplicate(t *testing.T) {
	s := newService(t)
	require.NoError(t, s.RegisterPublisher("mqtt", &MockPublisher{}))
	assert.ErrorIs(t, s.RegisterPublisher("mqtt", &MockPublisher{}), errAlreadyRegistered)
}

func TestPublishReading(t *testing.T) {
	s := newService(t)
	mock := &MockPublisher{}
	require.NoError(t, s.RegisterPublisher("mock", mock))

	dev := Device{Address: model.MustParseAddress("A4:C1:38:00:00:01"), Name: "Office"}
	temp := model.Temperature(215)
	hum := uint8(48)
	at := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.PublishReading(context.Background(), dev, model.Reading{Temperature: &temp, Humidity: &hum, ObservedAt: at}))
	require.Len(t, mock.written, 2)
	assert.Equal(t, model.SensorTemperature, mock.written[0].Slug)
	assert.Equal(t, "21.5", mock.written[0].Value)
	assert.Equal(t, "°C", mock.written[0].UnitOfMeasurement)
	assert.Equal(t, "48", mock.written[1].Value)
	assert.Equal(t, "office", mock.written[1].Device.Identifier)

	// Unchanged values are not sent again and the device is registered once.
	require.NoError(t, s.PublishReading(context.Background(), dev, model.Reading{Humidity: &hum, ObservedAt: at}))
	assert.Len(t, mock.written, 2)
	assert.Len(t, mock.registered, 1)
}

func TestPublish_FailingSinkDoesNotStopOthers(t *testing.T) {
	s := newService(t)
	broken := &MockPublisher{
		WriteFunc: func(context.Context, []model.SensorState) error { return errors.New("offline") },
		RegisterDeviceFunc: func(model.SensorDevice) error {
			return errors.New("offline")
		},
	}
	ok := &MockPublisher{}
	require.NoError(t, s.RegisterPublisher("broken", broken))
	require.NoError(t, s.RegisterPublisher("ok", ok))

	dev := Device{Address: model.MustParseAddress("A4:C1:38:00:00:01")}
	at := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.PublishSync(context.Background(), dev, model.SyncSuccess, at))
	require.Len(t, ok.written, 1)
	assert.Equal(t, model.SensorLastSync, ok.written[0].Slug)
	assert.Equal(t, "2023-11-14T22:13:20Z", ok.written[0].Value)
}

func TestPublishSync_IgnoresFailures(t *testing.T) {
	s := newService(t)
	mock := &MockPublisher{}
	require.NoError(t, s.RegisterPublisher("mock", mock))

	dev := Device{Address: model.MustParseAddress("A4:C1:38:00:00:01")}
	require.NoError(t, s.PublishSync(context.Background(), dev, model.SyncTimeout, time.Now()))
	assert.Empty(t, mock.written)
	assert.Empty(t, mock.registered)
}

func TestRegisterDevice_RetriedAfterSinkFailure(t *testing.T) {
	s := newService(t)
	calls := 0
	flaky := &MockPublisher{
		RegisterDeviceFunc: func(model.SensorDevice) error {
			calls++
			if calls == 1 {
				return errors.New("broker timeout")
			}
			return nil
		},
	}
	require.NoError(t, s.RegisterPublisher("flaky", flaky))

	dev := Device{Address: model.MustParseAddress("A4:C1:38:00:00:01"), Name: "Office"}
	for i := range 3 {
		temp := model.Temperature(200 + i)
		require.NoError(t, s.PublishReading(context.Background(), dev, model.Reading{Temperature: &temp}))
	}

	// first attempt failed, the second one sticks.
	assert.Equal(t, 2, calls)
	assert.Len(t, flaky.registered, 2)
	assert.Len(t, flaky.written, 3)
}
