// Package devices binds the account catalog, the capability model and the
// transport channels together into live device handles.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openrovo/rovo/account"
	"github.com/openrovo/rovo/channel"
	"github.com/openrovo/rovo/featureset"
	"github.com/openrovo/rovo/internal/logging"
	"github.com/openrovo/rovo/roboproto"
	"github.com/openrovo/rovo/traits"
)

// Version is the protocol generation a device speaks, taken from the
// catalog's pv field.
type Version string

const (
	VersionV1      Version = "1.0"
	VersionA01     Version = "A01"
	VersionUnknown Version = "unknown"
)

func versionFromPV(pv string) Version {
	switch pv {
	case "1.0":
		return VersionV1
	case "A01":
		return VersionA01
	default:
		return VersionUnknown
	}
}

// connector is implemented by channels that need an explicit transport
// connect (the local TCP channel). The broker channel connects lazily.
type connector interface {
	Connect(ctx context.Context) error
}

// boundTrait pairs a trait with the send path it was built on.
type boundTrait struct {
	trait traits.Trait
	send  traits.SendFunc
}

// lateReplyWindow bounds how long a timed-out command's reply is still
// routed to its trait. Stale markers are swept whenever a new one is
// recorded, so replies that never arrive cannot accumulate.
const lateReplyWindow = 5 * time.Minute

type lateMarker struct {
	trait   traits.Trait
	expires time.Time
}

// Device is one live appliance: its catalog record, capability flags, the
// channel that reaches it and the traits its flags support.
type Device struct {
	info     account.HomeDataDevice
	product  account.HomeDataProduct
	version  Version
	features featureset.Features
	security *roboproto.SecurityData // nil on the local transport
	ch       channel.Channel
	timeout  time.Duration

	byCommand map[string]*boundTrait
	now       func() time.Time

	mu     sync.Mutex
	late   map[int]lateMarker // request id -> marker, for replies that missed their deadline
	unsub  func()
	closed bool
}

// NewDevice builds a device handle over the given channel. security must
// be set for broker channels and nil for local ones; it decides how
// requests are rendered on the wire.
func NewDevice(info account.HomeDataDevice, product account.HomeDataProduct, ch channel.Channel, security *roboproto.SecurityData) *Device {
	featureInt, _ := strconv.ParseUint(info.FeatureSet, 10, 64)
	d := &Device{
		info:      info,
		product:   product,
		version:   versionFromPV(info.PV),
		features:  featureset.FromFlags(featureInt, info.NewFeatureSet),
		security:  security,
		ch:        ch,
		timeout:   channel.DefaultSendTimeout,
		byCommand: make(map[string]*boundTrait),
		now:       time.Now,
		late:      make(map[int]lateMarker),
	}
	for _, build := range traits.Registry() {
		bound := &boundTrait{}
		bound.send = d.sendFor(bound)
		bound.trait = build(bound.send)
		if bound.trait.Supported(d.features) {
			d.byCommand[bound.trait.Command()] = bound
		}
	}
	return d
}

// sendFor builds the trait's send path. A command that times out leaves a
// marker so its late reply, arriving through the subscriber stream, still
// updates the trait.
func (d *Device) sendFor(bound *boundTrait) traits.SendFunc {
	return func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		req := roboproto.NewRequest(method, params)
		msg, err := d.buildMessage(req)
		if err != nil {
			return nil, err
		}

		reply, err := d.ch.Send(ctx, msg, d.timeout)
		if err != nil {
			if channel.IsTimeout(err) {
				d.mu.Lock()
				for id, m := range d.late {
					if d.now().After(m.expires) {
						delete(d.late, id)
					}
				}
				d.late[req.ID] = lateMarker{trait: bound.trait, expires: d.now().Add(lateReplyWindow)}
				d.mu.Unlock()
			}
			return nil, err
		}

		resp, err := reply.RPCResult()
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.info.DUID, err)
		}
		if len(resp.Error) > 0 && string(resp.Error) != "null" {
			return nil, fmt.Errorf("device %s rejected %s: %s", d.info.DUID, method, resp.Error)
		}
		return resp.Result, nil
	}
}

// buildMessage renders the request for this device's transport.
func (d *Device) buildMessage(req roboproto.Request) (roboproto.Message, error) {
	if d.security != nil {
		return req.MQTTMessage(*d.security)
	}
	return req.LocalMessage()
}

// Connect subscribes to the device's message stream and, on transports
// that need it, establishes the physical connection.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("device %s is closed", d.info.DUID)
	}
	alreadySubscribed := d.unsub != nil
	d.mu.Unlock()

	if c, ok := d.ch.(connector); ok {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	if alreadySubscribed {
		return nil
	}

	unsub, err := d.ch.Subscribe(d.onMessage)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.unsub = unsub
	d.mu.Unlock()
	return nil
}

// onMessage consumes the subscriber stream. Replies whose command already
// timed out are routed to their trait; everything else is logged and
// dropped.
func (d *Device) onMessage(msg roboproto.Message) {
	resp, err := msg.RPCResult()
	if err != nil {
		logging.Debug("non-rpc message from device",
			zap.String("duid", d.info.DUID),
			zap.Stringer("protocol", msg.Protocol),
		)
		return
	}

	d.mu.Lock()
	marker, ok := d.late[resp.ID]
	if ok {
		delete(d.late, resp.ID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	trait := marker.trait
	if err := trait.Update(resp.Result); err != nil {
		logging.Warn("late reply rejected by trait",
			zap.String("duid", d.info.DUID),
			zap.String("trait", trait.Name()),
			zap.Error(err),
		)
		return
	}
	logging.Debug("late reply applied",
		zap.String("duid", d.info.DUID),
		zap.String("trait", trait.Name()),
		zap.Int("request_id", resp.ID),
	)
}

// Update polls every supported trait once. Individual trait failures do
// not stop the sweep; the first error is returned after all traits were
// attempted.
func (d *Device) Update(ctx context.Context) error {
	var firstErr error
	for _, bound := range d.byCommand {
		result, err := bound.send(ctx, bound.trait.Command(), nil)
		if err != nil {
			logging.Warn("trait poll failed",
				zap.String("duid", d.info.DUID),
				zap.String("trait", bound.trait.Name()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := bound.trait.Update(result); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DUID returns the device's unique id.
func (d *Device) DUID() string { return d.info.DUID }

// Name returns the user-assigned device name.
func (d *Device) Name() string { return d.info.Name }

// Version returns the protocol generation.
func (d *Device) Version() Version { return d.version }

// Features returns the device's capability flags.
func (d *Device) Features() featureset.Features { return d.features }

// Info returns the catalog record the device was built from.
func (d *Device) Info() account.HomeDataDevice { return d.info }

// Product returns the catalog product record.
func (d *Device) Product() account.HomeDataProduct { return d.product }

// Trait looks up a supported trait by its query command.
func (d *Device) Trait(command string) (traits.Trait, bool) {
	bound, ok := d.byCommand[command]
	if !ok {
		return nil, false
	}
	return bound.trait, true
}

// Traits returns all supported traits.
func (d *Device) Traits() []traits.Trait {
	out := make([]traits.Trait, 0, len(d.byCommand))
	for _, bound := range d.byCommand {
		out = append(out, bound.trait)
	}
	return out
}

// Status returns the status trait. Always present.
func (d *Device) Status() *traits.Status {
	bound := d.byCommand["get_status"]
	return bound.trait.(*traits.Status)
}

// DnD returns the do-not-disturb trait, if the device supports it.
func (d *Device) DnD() (*traits.DnD, bool) {
	bound, ok := d.byCommand["get_dnd_timer"]
	if !ok {
		return nil, false
	}
	return bound.trait.(*traits.DnD), true
}

// Consumables returns the consumables trait. Always present.
func (d *Device) Consumables() *traits.Consumables {
	bound := d.byCommand["get_consumable"]
	return bound.trait.(*traits.Consumables)
}

// CleanSummary returns the clean summary trait. Always present.
func (d *Device) CleanSummary() *traits.CleanSummary {
	bound := d.byCommand["get_clean_summary"]
	return bound.trait.(*traits.CleanSummary)
}

// WashTowel returns the wash towel trait, if the device supports it.
func (d *Device) WashTowel() (*traits.WashTowel, bool) {
	bound, ok := d.byCommand["get_wash_towel_mode"]
	if !ok {
		return nil, false
	}
	return bound.trait.(*traits.WashTowel), true
}

// Close detaches from the message stream and closes the channel.
// Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	unsub := d.unsub
	d.unsub = nil
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	return d.ch.Close()
}
