// Package security derives the stable machine identity used for license
// activation. The fingerprint must survive reboots and reinstalls but differ
// between machines.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// hashScheme versions the fingerprint derivation. Bumping it invalidates
// every existing activation, so it changes only with a migration plan.
const hashScheme = ":vidttool:v1"

// Manager computes and caches the machine identity.
type Manager struct {
	once        sync.Once
	fingerprint string
	deviceID    string
	err         error
}

// NewManager returns an identity manager. Derivation is lazy and happens once.
func NewManager() *Manager {
	return &Manager{}
}

// Fingerprint returns the 32-hex-character machine fingerprint sent with
// validation calls.
func (m *Manager) Fingerprint() (string, error) {
	m.derive()
	return m.fingerprint, m.err
}

// DeviceID returns the device identifier used for ban tracking. It is derived
// from the same hardware identity as the fingerprint but hashed separately,
// so neither value can be computed from the other.
func (m *Manager) DeviceID() (string, error) {
	m.derive()
	return m.deviceID, m.err
}

func (m *Manager) derive() {
	m.once.Do(func() {
		raw, err := collectMachineID()
		if err != nil {
			m.err = err
			return
		}
		m.fingerprint = hashID(raw + hashScheme)
		m.deviceID = "dev-" + hashID("device:"+raw+hashScheme)[:16]
	})
}

func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

// collectMachineID concatenates stable hardware and OS traits. MAC addresses
// of physical interfaces anchor the identity; hostname and user break ties on
// shared hardware.
func collectMachineID() (string, error) {
	parts := []string{runtime.GOOS, runtime.GOARCH}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("read hostname: %w", err)
	}
	parts = append(parts, hostname)

	if u, err := user.Current(); err == nil {
		parts = append(parts, u.Username)
	}

	macs, err := physicalMACs()
	if err != nil {
		return "", err
	}
	parts = append(parts, macs...)

	return strings.Join(parts, "|"), nil
}

func physicalMACs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		// Virtual adapters (docker, VPN tunnels) come and go; skipping them
		// keeps the fingerprint stable.
		name := strings.ToLower(iface.Name)
		if strings.HasPrefix(name, "docker") || strings.HasPrefix(name, "veth") ||
			strings.HasPrefix(name, "br-") || strings.HasPrefix(name, "tun") ||
			strings.HasPrefix(name, "tap") || strings.HasPrefix(name, "utun") {
			continue
		}
		macs = append(macs, iface.HardwareAddr.String())
	}
	sort.Strings(macs)
	return macs, nil
}
