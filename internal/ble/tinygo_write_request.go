//go:build darwin || windows

package ble

// Write uses a write request, so it returns once the peripheral
// acknowledged the value.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
