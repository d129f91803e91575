package main

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrovo/rovo/account"
	"github.com/openrovo/rovo/devices"
	"github.com/openrovo/rovo/featureset"
	"github.com/openrovo/rovo/roboproto"
	"github.com/openrovo/rovo/traits"
)

// Command flags
var (
	commandTimeout int
	dndWindow      string
	dndOff         bool
)

func init() {
	rootCmd.PersistentFlags().IntVar(&commandTimeout, "timeout", 30, "Command timeout in seconds")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dndCmd)
}

// devicesCmd lists the cached device catalog
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices of the cached account",
	Long: `List every device in the locally cached account catalog.

The cache is populated by an external login flow; rovoctl only reads it.`,
	RunE: runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	cache, err := account.LoadCache()
	if err != nil {
		return err
	}
	if cache.HomeData == nil {
		return fmt.Errorf("no cached home data; log in first")
	}

	pairs := cache.HomeData.DeviceProducts()
	if len(pairs) == 0 {
		fmt.Println("No devices in the cached catalog.")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(pairs))
	for i, pair := range pairs {
		online := "offline"
		if pair.Device.Online {
			online = "online"
		}
		fmt.Printf("%d. %s (%s)\n", i+1, pair.Device.Name, online)
		fmt.Printf("   DUID:     %s\n", pair.Device.DUID)
		fmt.Printf("   Model:    %s\n", pair.Product.Model)
		fmt.Printf("   Firmware: %s (protocol %s)\n", pair.Device.FV, pair.Device.PV)
		if pair.Device.LocalIP != "" {
			fmt.Printf("   Local IP: %s\n", pair.Device.LocalIP)
		}
		fmt.Println()
	}
	return nil
}

// featuresCmd prints the capability flags of one device
var featuresCmd = &cobra.Command{
	Use:   "features <duid>",
	Short: "Show the capability flags of a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeatures,
}

func runFeatures(cmd *cobra.Command, args []string) error {
	device, err := cachedDevice(args[0])
	if err != nil {
		return err
	}

	featureInt, _ := strconv.ParseUint(device.FeatureSet, 10, 64)
	flags := featureset.FromFlags(featureInt, device.NewFeatureSet)

	v := reflect.ValueOf(flags)
	var enabled []string
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).Bool() {
			enabled = append(enabled, v.Type().Field(i).Name)
		}
	}

	fmt.Printf("%s: %d of %d capability flags set\n\n", device.Name, len(enabled), v.NumField())
	for _, name := range enabled {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

// statusCmd queries live status over the broker
var statusCmd = &cobra.Command{
	Use:   "status <duid>",
	Short: "Query the live status of a device",
	Long: `Connect to the vendor broker with the cached credentials and query
the device's current status.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withLiveDevice(cmd, args[0], func(d *devices.Device) error {
		if err := d.Status().Refresh(cmd.Context()); err != nil {
			return err
		}
		status, _ := d.Status().Current()
		fmt.Printf("%s:\n", d.Name())
		fmt.Printf("  State:      %d\n", status.State)
		fmt.Printf("  Battery:    %d%%\n", status.Battery)
		fmt.Printf("  Fan power:  %d\n", status.FanPower)
		fmt.Printf("  Error code: %d\n", status.ErrorCode)
		fmt.Printf("  Clean time: %s\n", time.Duration(status.CleanTime)*time.Second)
		fmt.Printf("  Clean area: %.1f m²\n", float64(status.CleanArea)/1e6)
		return nil
	})
}

// dndCmd shows or programs the do-not-disturb window
var dndCmd = &cobra.Command{
	Use:   "dnd <duid>",
	Short: "Show or set the do-not-disturb window of a device",
	Example: `  # Show the current window
  rovoctl dnd <duid>

  # Quiet hours from 22:00 to 07:30
  rovoctl dnd <duid> --set 22:00-07:30

  # Turn the window off
  rovoctl dnd <duid> --off`,
	Args: cobra.ExactArgs(1),
	RunE: runDnD,
}

func init() {
	dndCmd.Flags().StringVar(&dndWindow, "set", "", "Window to program, as HH:MM-HH:MM")
	dndCmd.Flags().BoolVar(&dndOff, "off", false, "Disable the window")
}

func runDnD(cmd *cobra.Command, args []string) error {
	return withLiveDevice(cmd, args[0], func(d *devices.Device) error {
		dnd, ok := d.DnD()
		if !ok {
			return fmt.Errorf("device %s does not support do-not-disturb timers", d.DUID())
		}

		switch {
		case dndOff:
			if err := dnd.Disable(cmd.Context()); err != nil {
				return err
			}
		case dndWindow != "":
			timer, err := parseDnDWindow(dndWindow)
			if err != nil {
				return err
			}
			if err := dnd.Set(cmd.Context(), timer); err != nil {
				return err
			}
		default:
			if err := dnd.Refresh(cmd.Context()); err != nil {
				return err
			}
		}

		timer, _ := dnd.Current()
		state := "disabled"
		if timer.Enabled != 0 {
			state = "enabled"
		}
		fmt.Printf("%s: do-not-disturb %s, %02d:%02d-%02d:%02d\n",
			d.Name(), state,
			timer.StartHour, timer.StartMinute, timer.EndHour, timer.EndMinute)
		return nil
	})
}

func parseDnDWindow(s string) (traits.DnDTimer, error) {
	var timer traits.DnDTimer
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return timer, fmt.Errorf("invalid window %q, want HH:MM-HH:MM", s)
	}
	var err error
	if timer.StartHour, timer.StartMinute, err = parseClock(parts[0]); err != nil {
		return timer, err
	}
	if timer.EndHour, timer.EndMinute, err = parseClock(parts[1]); err != nil {
		return timer, err
	}
	timer.Enabled = 1
	return timer, nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// cachedDevice finds one device record in the cached catalog.
func cachedDevice(duid string) (*account.HomeDataDevice, error) {
	cache, err := account.LoadCache()
	if err != nil {
		return nil, err
	}
	if cache.HomeData == nil {
		return nil, fmt.Errorf("no cached home data; log in first")
	}
	for _, pair := range cache.HomeData.DeviceProducts() {
		if pair.Device.DUID == duid {
			device := pair.Device
			return &device, nil
		}
	}
	return nil, fmt.Errorf("device %s not found in the cached catalog", duid)
}

// withLiveDevice brings up a device manager from the cache, runs fn
// against the requested device and tears everything down again.
func withLiveDevice(cmd *cobra.Command, duid string, fn func(*devices.Device) error) error {
	cache, err := account.LoadCache()
	if err != nil {
		return err
	}
	if cache.UserData == nil {
		return fmt.Errorf("no cached credentials; log in first")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(commandTimeout)*time.Second)
	defer cancel()
	cmd.SetContext(ctx)

	manager, err := devices.CreateManager(ctx, *cache.UserData,
		account.HomeDataFromCache(cache), plainCodec)
	if err != nil {
		return err
	}
	defer manager.Close()

	device, ok := manager.Device(duid)
	if !ok {
		return fmt.Errorf("device %s not found in the cached catalog", duid)
	}
	return fn(device)
}

func plainCodec(string) (roboproto.Encoder, roboproto.Decoder) {
	return roboproto.NewPlainCodec()
}
