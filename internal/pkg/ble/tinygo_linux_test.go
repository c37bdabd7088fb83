package ble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

type mockPayload struct {
	serviceData []bluetooth.ServiceDataElement
}

func (p *mockPayload) LocalName() string {
	return ""
}

func (p *mockPayload) HasServiceUUID(bluetooth.UUID) bool {
	return false
}

func (p *mockPayload) Bytes() []byte {
	return nil
}

func (p *mockPayload) ManufacturerData() []bluetooth.ManufacturerDataElement {
	return nil
}

func (p *mockPayload) ServiceData() []bluetooth.ServiceDataElement {
	return p.serviceData
}

func scanResult(t *testing.T, address string, elements ...bluetooth.ServiceDataElement) bluetooth.ScanResult {
	t.Helper()
	mac, err := bluetooth.ParseMAC(address)
	require.NoError(t, err)
	return bluetooth.ScanResult{
		Address:              bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}},
		RSSI:                 -70,
		AdvertisementPayload: &mockPayload{serviceData: elements},
	}
}

func TestStartScan_DeliversAdvertisements(t *testing.T) {
	a := newMockAdapter(
		scanResult(t, "A4:C1:38:00:00:01", bluetooth.ServiceDataElement{UUID: bluetooth.New16BitUUID(0x181a), Data: []byte{0x0a, 0x50}}),
		scanResult(t, "A4:C1:38:00:00:02"),
	)
	s := newTestService(t, a)

	out, err := s.StartScan(context.Background())
	require.NoError(t, err)
	<-a.started
	require.NoError(t, s.StopScan())

	var got []model.Advertisement
	for adv := range out {
		got = append(got, adv)
	}
	require.Len(t, got, 2)
	assert.Equal(t, model.MustParseAddress("A4:C1:38:00:00:01"), got[0].Address)
	assert.Equal(t, model.SensorServiceUUID, got[0].ServiceUUID)
	assert.Equal(t, []byte{0x0a, 0x50}, got[0].Data)
	assert.Equal(t, int16(-70), got[0].RSSI)
	assert.Equal(t, model.MustParseAddress("A4:C1:38:00:00:02"), got[1].Address)
	assert.Empty(t, got[1].Data)

	// both are now connectable.
	assert.Len(t, s.seen, 2)
}
