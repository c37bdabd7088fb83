//go:build darwin || windows

package ble

func (c gattCharacteristic) write(data []byte) (int, error) {
	return c.Write(data)
}
