package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	// Should not be empty
	if configDir == "" {
		t.Error("GetConfigDir() returned empty string")
	}

	// Should contain "moentap"
	if !strings.Contains(configDir, "moentap") {
		t.Errorf("GetConfigDir() = %v, should contain 'moentap'", configDir)
	}

	// Platform-specific checks
	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin", "linux":
		if !strings.Contains(configDir, ".config") {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}

	t.Logf("Config directory: %s", configDir)
}

func TestGetConfigDirHonorsXDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG_CONFIG_HOME only applies on Linux and other Unix-like systems")
	}

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}
	if configDir != filepath.Join(tmpDir, "moentap") {
		t.Errorf("GetConfigDir() = %v, want %v", configDir, filepath.Join(tmpDir, "moentap"))
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	// Should end with config.yaml
	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg.Version != 1 {
		t.Errorf("NewRegistry().Version = %v, want 1", reg.Version)
	}

	if reg.Devices == nil {
		t.Error("NewRegistry().Devices should not be nil")
	}

	if reg.Preferences == nil {
		t.Fatal("NewRegistry().Preferences should not be nil")
	}

	if reg.Preferences.PollIntervalSeconds != 30 {
		t.Errorf("NewRegistry().Preferences.PollIntervalSeconds = %v, want 30", reg.Preferences.PollIntervalSeconds)
	}

	if reg.Preferences.CommandEnvelope != "client-event" {
		t.Errorf("NewRegistry().Preferences.CommandEnvelope = %v, want 'client-event'", reg.Preferences.CommandEnvelope)
	}

	if reg.Preferences.PushReconnect != true {
		t.Error("NewRegistry().Preferences.PushReconnect should be true by default")
	}
}

func TestRegistryEnsureDevice(t *testing.T) {
	reg := NewRegistry()

	// First call should create device
	device1 := reg.EnsureDevice("315260240")
	if device1 == nil {
		t.Fatal("EnsureDevice() returned nil")
	}

	// Second call should return same device
	device2 := reg.EnsureDevice("315260240")
	if device1 != device2 {
		t.Error("EnsureDevice() should return same instance for same serial")
	}

	// Different serial should create new device
	device3 := reg.EnsureDevice("889900112")
	if device1 == device3 {
		t.Error("EnsureDevice() should create new instance for different serial")
	}
}

func TestRegistryUpdateDeviceLastSeen(t *testing.T) {
	reg := NewRegistry()

	before := time.Now()
	reg.UpdateDeviceLastSeen("315260240")
	after := time.Now()

	device := reg.GetDevice("315260240")
	if device == nil {
		t.Fatal("Device should exist after UpdateDeviceLastSeen()")
	}

	if device.LastSeen.Before(before) || device.LastSeen.After(after) {
		t.Errorf("LastSeen = %v, should be between %v and %v", device.LastSeen, before, after)
	}
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	// Observer callbacks fire from both the poll goroutine and the push
	// read loop, so the registry must tolerate concurrent mutation. Run
	// with -race to catch regressions.
	reg := NewRegistry()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				reg.UpdateDeviceLastSeen("315260240")
				reg.UpdateDeviceLastSeen("889900112")
				reg.SetOutletLabel("315260240", i%3, "Outlet", "")
				_ = reg.GetDevice("315260240")
				_ = reg.DeviceLastSeen("889900112")
			}
		}()
	}
	wg.Wait()

	if reg.GetDevice("315260240") == nil || reg.GetDevice("889900112") == nil {
		t.Error("devices missing after concurrent updates")
	}
	if reg.DeviceLastSeen("315260240").IsZero() {
		t.Error("LastSeen not recorded")
	}
}

func TestRegistryDeviceLastSeen(t *testing.T) {
	reg := NewRegistry()

	if !reg.DeviceLastSeen("315260240").IsZero() {
		t.Error("DeviceLastSeen() for unknown device should be zero")
	}

	reg.UpdateDeviceLastSeen("315260240")
	if reg.DeviceLastSeen("315260240").IsZero() {
		t.Error("DeviceLastSeen() should be set after UpdateDeviceLastSeen()")
	}
}

func TestRegistrySetOutletLabel(t *testing.T) {
	reg := NewRegistry()

	reg.SetOutletLabel("315260240", 1, "Rain Shower Head", "🚿")

	device := reg.GetDevice("315260240")
	if device == nil {
		t.Fatal("Device should exist after SetOutletLabel()")
	}

	outlet := device.Outlets[1]
	if outlet == nil {
		t.Fatal("Outlet 1 should exist")
	}

	if outlet.Label != "Rain Shower Head" {
		t.Errorf("Outlet.Label = %v, want 'Rain Shower Head'", outlet.Label)
	}

	if outlet.Icon != "🚿" {
		t.Errorf("Outlet.Icon = %v, want '🚿'", outlet.Icon)
	}
}

func TestRegistryYAMLRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Account = &Account{Email: "user@example.com"}
	dev := reg.EnsureDevice("315260240")
	dev.Nickname = "Master Bathroom"
	reg.SetOutletLabel("315260240", 0, "Rain Head", "")
	reg.Preferences.CommandEnvelope = "control"

	data, err := yaml.Marshal(reg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}

	// The password must never appear in the serialized form, under any key.
	if strings.Contains(strings.ToLower(string(data)), "password") {
		t.Errorf("serialized config mentions a password:\n%s", data)
	}

	var loaded Registry
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}

	if loaded.Version != 1 {
		t.Errorf("loaded version = %v, want 1", loaded.Version)
	}
	if loaded.Account == nil || loaded.Account.Email != "user@example.com" {
		t.Errorf("loaded account = %+v", loaded.Account)
	}

	device := loaded.GetDevice("315260240")
	if device == nil {
		t.Fatal("Device should exist in loaded registry")
	}
	if device.Nickname != "Master Bathroom" {
		t.Errorf("Loaded nickname = %v, want 'Master Bathroom'", device.Nickname)
	}
	outlet := device.Outlets[0]
	if outlet == nil || outlet.Label != "Rain Head" {
		t.Errorf("Loaded outlet 0 = %+v, want label 'Rain Head'", outlet)
	}

	if loaded.Preferences.CommandEnvelope != "control" {
		t.Errorf("Loaded envelope = %v, want 'control'", loaded.Preferences.CommandEnvelope)
	}
}

func TestRegistrySaveAndLoadFromDisk(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("test redirects the config dir via XDG_CONFIG_HOME")
	}

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	reg := NewRegistry()
	reg.Account = &Account{Email: "user@example.com"}
	reg.EnsureDevice("315260240").Nickname = "Guest Bath"
	reg.UpdateDeviceLastSeen("315260240")

	if err := reg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, "moentap", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// The header comment survives the atomic write.
	if !strings.HasPrefix(string(data), "# Moentap Configuration File") {
		t.Errorf("config file missing header comment:\n%.100s", data)
	}

	// No temp file left behind.
	if _, err := os.Stat(configPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind after Save()")
	}

	loaded, err := loadRegistryFromDisk()
	if err != nil {
		t.Fatalf("loadRegistryFromDisk() error = %v", err)
	}
	device := loaded.GetDevice("315260240")
	if device == nil || device.Nickname != "Guest Bath" {
		t.Errorf("loaded device = %+v, want nickname 'Guest Bath'", device)
	}
	if device != nil && device.LastSeen.IsZero() {
		t.Error("LastSeen did not survive the save/load round trip")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("test redirects the config dir via XDG_CONFIG_HOME")
	}

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	reg, err := loadRegistryFromDisk()
	if err != nil {
		t.Fatalf("loadRegistryFromDisk() error = %v", err)
	}
	if reg.Version != 1 || reg.Preferences == nil || reg.Preferences.PollIntervalSeconds != 30 {
		t.Errorf("missing file should yield defaults, got %+v", reg)
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("test redirects the config dir via XDG_CONFIG_HOME")
	}

	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configDir := filepath.Join(tmpDir, "moentap")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("version: 99\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := loadRegistryFromDisk(); err == nil {
		t.Error("loadRegistryFromDisk() accepted unsupported version")
	}
}

// Benchmark tests

func BenchmarkGetConfigDir(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GetConfigDir()
	}
}

func BenchmarkEnsureDevice(b *testing.B) {
	reg := NewRegistry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.EnsureDevice("315260240")
	}
}
