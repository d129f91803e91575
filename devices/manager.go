package devices

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openrovo/rovo/account"
	"github.com/openrovo/rovo/channel"
	"github.com/openrovo/rovo/internal/logging"
	"github.com/openrovo/rovo/mqttx"
	"github.com/openrovo/rovo/roboproto"
)

// DeviceManager owns the device handles of one account and the broker
// session they share.
type DeviceManager struct {
	session mqttx.Session

	mu      sync.Mutex
	devices map[string]*Device
	closed  bool
}

// NewDeviceManager builds a manager over an already started session.
// Ownership of the session transfers to the manager; Close shuts it down.
func NewDeviceManager(session mqttx.Session) *DeviceManager {
	return &DeviceManager{
		session: session,
		devices: make(map[string]*Device),
	}
}

// Discover fetches the account catalog and builds a connected device for
// every entry. Devices are discovered serially; a device that fails to
// connect is logged and skipped rather than aborting the sweep.
func (m *DeviceManager) Discover(ctx context.Context, rriot account.Rriot, hashedUser string, api account.HomeDataAPI, codec roboproto.CodecFactory) error {
	home, err := api(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch home data: %w", err)
	}

	security, err := roboproto.NewSecurityData(rriot.K)
	if err != nil {
		return err
	}

	for _, pair := range home.DeviceProducts() {
		m.mu.Lock()
		_, exists := m.devices[pair.Device.DUID]
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return fmt.Errorf("device manager is closed")
		}
		if exists {
			continue
		}

		enc, dec := codec(pair.Device.LocalKey)
		ch := channel.NewMQTTChannel(m.session, rriot.U, hashedUser, pair.Device.DUID, enc, dec)
		device := NewDevice(pair.Device, pair.Product, ch, &security)
		if err := device.Connect(ctx); err != nil {
			logging.Warn("skipping device that failed to connect",
				zap.String("duid", pair.Device.DUID),
				zap.Error(err),
			)
			_ = device.Close()
			continue
		}

		m.mu.Lock()
		m.devices[pair.Device.DUID] = device
		m.mu.Unlock()
		logging.Info("device discovered",
			zap.String("duid", pair.Device.DUID),
			zap.String("name", pair.Device.Name),
			zap.String("model", pair.Product.Model),
		)
	}
	return nil
}

// Device looks up a device by its unique id.
func (m *DeviceManager) Device(duid string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[duid]
	return d, ok
}

// Devices returns all managed devices.
func (m *DeviceManager) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Close shuts down every device concurrently, then the shared session.
// Devices already closed individually are fine; Device.Close is
// idempotent.
func (m *DeviceManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	devices := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.devices = make(map[string]*Device)
	m.mu.Unlock()

	var g errgroup.Group
	for _, d := range devices {
		g.Go(d.Close)
	}
	err := g.Wait()
	if serr := m.session.Close(); err == nil {
		err = serr
	}
	return err
}

// CreateManager is the one-call setup path: it derives broker parameters
// from the account credentials, starts the shared session, and discovers
// every device in the catalog.
func CreateManager(ctx context.Context, user account.UserData, api account.HomeDataAPI, codec roboproto.CodecFactory) (*DeviceManager, error) {
	params, err := mqttx.ParamsFromRriot(user.Rriot)
	if err != nil {
		return nil, err
	}
	session := mqttx.NewSession(params)
	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	m := NewDeviceManager(session)
	if err := m.Discover(ctx, user.Rriot, params.Username, api, codec); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}
