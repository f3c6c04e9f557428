//go:build !darwin && !windows

package ble

// Write uses a write command; BlueZ only reports that the local stack
// accepted the value.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
