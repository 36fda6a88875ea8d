//go:build darwin || windows

package ble

// controlWriter is the control point write surface. The CoreBluetooth and
// WinRT backends offer acknowledged writes, which the PMD control point
// expects.
type controlWriter interface {
	Write(p []byte) (int, error)
}

func writeControl(c controlWriter, p []byte) error {
	_, err := c.Write(p)
	return err
}
