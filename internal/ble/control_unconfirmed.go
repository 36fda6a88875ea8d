//go:build !darwin && !windows

package ble

// controlWriter is the control point write surface. BlueZ and the bare
// metal backends only expose unacknowledged writes; the sensor still
// answers on the control notifications.
type controlWriter interface {
	WriteWithoutResponse(p []byte) (int, error)
}

func writeControl(c controlWriter, p []byte) error {
	_, err := c.WriteWithoutResponse(p)
	return err
}
