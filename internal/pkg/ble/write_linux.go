package ble

// BlueZ sends WriteValue without a "type" option as a write request when the
// characteristic supports one, so the peer still acknowledges it.
func (c gattCharacteristic) write(data []byte) (int, error) {
	return c.WriteWithoutResponse(data)
}
