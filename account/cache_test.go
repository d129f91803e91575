package account

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cache := NewCache()
	cache.Email = "user@example.com"
	cache.UserData = &UserData{
		Rriot: Rriot{U: "realm", S: "secret", K: "key", R: Reference{M: "ssl://mqtt.example.com:8883"}},
		Token: "token",
	}
	cache.HomeData = &HomeData{
		Devices: []HomeDataDevice{
			{DUID: "abc123", Name: "Vacuum", LocalKey: "localkey", ProductID: "p1", PV: "1.0"},
		},
		Products: []HomeDataProduct{
			{ID: "p1", Name: "S7", Model: "roborock.vacuum.a15"},
		},
	}

	if err := cache.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadCache()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Email != "user@example.com" {
		t.Errorf("email = %q", loaded.Email)
	}
	if loaded.UserData == nil || loaded.UserData.Rriot.U != "realm" {
		t.Errorf("user data not round-tripped: %+v", loaded.UserData)
	}
	if loaded.HomeData == nil || len(loaded.HomeData.Devices) != 1 {
		t.Fatalf("home data not round-tripped: %+v", loaded.HomeData)
	}
	if loaded.HomeData.Devices[0].LocalKey != "localkey" {
		t.Errorf("device local key = %q", loaded.HomeData.Devices[0].LocalKey)
	}
}

func TestLoadCacheMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cache, err := LoadCache()
	if err != nil {
		t.Fatal(err)
	}
	if cache.Version != 1 {
		t.Errorf("missing file should yield a fresh cache, got version %d", cache.Version)
	}
}

func TestLoadCacheBadVersion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, appName)
	if err := os.MkdirAll(path, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, cacheFile), []byte("version: 99\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCache(); err == nil {
		t.Fatal("expected error for unsupported cache version")
	}
}

func TestDeviceProducts(t *testing.T) {
	home := HomeData{
		Devices:         []HomeDataDevice{{DUID: "a", ProductID: "p1"}},
		ReceivedDevices: []HomeDataDevice{{DUID: "b", ProductID: "p2"}},
		Products:        []HomeDataProduct{{ID: "p1", Model: "m1"}},
	}
	got := home.DeviceProducts()
	if len(got) != 2 {
		t.Fatalf("got %d pairs, want 2", len(got))
	}
	if got[0].Product.Model != "m1" {
		t.Errorf("device a product = %+v", got[0].Product)
	}
	// Unknown product pairs with a zero value rather than dropping the device
	if got[1].Device.DUID != "b" || got[1].Product.ID != "" {
		t.Errorf("device b pair = %+v", got[1])
	}
}

func TestHomeDataFromCache(t *testing.T) {
	api := HomeDataFromCache(&Cache{HomeData: &HomeData{Name: "home"}})
	home, err := api(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if home.Name != "home" {
		t.Errorf("name = %q", home.Name)
	}

	empty := HomeDataFromCache(NewCache())
	if _, err := empty(context.Background()); err == nil {
		t.Fatal("expected error for empty cache")
	}
}
