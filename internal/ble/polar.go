package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

const responseTimeout = 5 * time.Second

var (
	// ErrNoPMD indicates the device does not expose the PMD service
	ErrNoPMD = errors.New("device has no pmd service")
	// ErrRejected indicates the sensor refused the start command
	ErrRejected = errors.New("sensor rejected ecg start")
)

var (
	pmdService = mustUUID(PMDServiceUUID)
	pmdControl = mustUUID(PMDControlUUID)
	pmdData    = mustUUID(PMDDataUUID)
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Sensor is a connected Polar strap.
type Sensor struct {
	Name    string
	Address string

	device    bluetooth.Device
	control   bluetooth.DeviceCharacteristic
	data      bluetooth.DeviceCharacteristic
	responses chan ControlResponse
	log       *logrus.Entry
}

// Connect scans for the first device whose local name starts with
// namePrefix, connects and resolves the PMD characteristics.
func Connect(ctx context.Context, namePrefix string, log *logrus.Entry) (*Sensor, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w (try running with sudo or setcap cap_net_admin+ep)", err)
	}

	result, err := scan(ctx, adapter, namePrefix)
	if err != nil {
		return nil, err
	}
	log = log.WithFields(logrus.Fields{"name": result.LocalName(), "address": result.Address.String()})
	log.Info("sensor found")

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &Sensor{
		Name:      result.LocalName(),
		Address:   result.Address.String(),
		device:    device,
		responses: make(chan ControlResponse, 1),
		log:       log,
	}
	if err := s.resolve(); err != nil {
		_ = device.Disconnect()
		return nil, err
	}
	return s, nil
}

// scan blocks until a matching advertisement arrives or ctx is done.
func scan(ctx context.Context, adapter *bluetooth.Adapter, namePrefix string) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	errc := make(chan error, 1)

	go func() {
		errc <- adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !strings.HasPrefix(result.LocalName(), namePrefix) {
				return
			}
			select {
			case found <- result:
				_ = a.StopScan()
			default:
			}
		})
	}()

	select {
	case result := <-found:
		return result, nil
	case err := <-errc:
		if err == nil {
			err = errors.New("scan stopped")
		}
		return bluetooth.ScanResult{}, fmt.Errorf("scan: %w", err)
	case <-ctx.Done():
		_ = adapter.StopScan()
		return bluetooth.ScanResult{}, ctx.Err()
	}
}

func (s *Sensor) resolve() error {
	services, err := s.device.DiscoverServices([]bluetooth.UUID{pmdService})
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return ErrNoPMD
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{pmdControl, pmdData})
	if err != nil {
		return fmt.Errorf("discover characteristics: %w", err)
	}
	var haveControl, haveData bool
	for _, c := range chars {
		switch c.UUID() {
		case pmdControl:
			s.control, haveControl = c, true
		case pmdData:
			s.data, haveData = c, true
		}
	}
	if !haveControl || !haveData {
		return ErrNoPMD
	}
	return nil
}

// StartECG subscribes handler to data notifications and starts the
// stream. handler runs on the BLE stack's goroutine.
func (s *Sensor) StartECG(handler func([]byte)) error {
	err := s.control.EnableNotifications(func(b []byte) {
		resp, err := ParseControlResponse(b)
		if err != nil {
			s.log.WithError(err).Debug("control notification ignored")
			return
		}
		select {
		case s.responses <- resp:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("enable control notifications: %w", err)
	}
	if err := s.data.EnableNotifications(handler); err != nil {
		return fmt.Errorf("enable data notifications: %w", err)
	}

	if err := writeControl(s.control, StartECGCommand()); err != nil {
		return fmt.Errorf("write start: %w", err)
	}

	select {
	case resp := <-s.responses:
		if !resp.OK() {
			return fmt.Errorf("%w: status %d", ErrRejected, resp.Status)
		}
	case <-time.After(responseTimeout):
		return fmt.Errorf("%w: no response", ErrRejected)
	}
	s.log.WithField("rate", ECGSampleRate).Info("ecg stream started")
	return nil
}

// Close stops the stream and disconnects.
func (s *Sensor) Close() error {
	stopErr := writeControl(s.control, StopECGCommand())
	return errors.Join(stopErr, s.device.Disconnect())
}
