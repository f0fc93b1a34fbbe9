package directory

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sync"

	"camarc/internal/camarc"
	"camarc/internal/config"
)

// Environment variables holding the directory credentials.
const (
	AccountEnv  = "CAMARC_DIRECTORY_ACCOUNT"
	PasswordEnv = "CAMARC_DIRECTORY_PASSWORD"
)

// ErrBadCredentials is returned when the account or password does not match.
var ErrBadCredentials = errors.New("incorrect account or password")

// StaticDirectory serves a fixed device list from config. When an account
// is set, Authenticate requires matching credentials.
type StaticDirectory struct {
	account  string
	password string
	devices  []camarc.Device
	idgen    camarc.IDGenerator

	mu       sync.Mutex
	sessions map[string]string
}

var _ camarc.Directory = (*StaticDirectory)(nil)

func NewStaticDirectory(account, password string, devices []camarc.Device, idgen camarc.IDGenerator) *StaticDirectory {
	return &StaticDirectory{
		account:  account,
		password: password,
		devices:  devices,
		idgen:    idgen,
		sessions: make(map[string]string),
	}
}

// NewStaticDirectoryFromConfig builds the directory from cfg.Devices and the
// credentials in the environment.
func NewStaticDirectoryFromConfig(cfg *config.Config, idgen camarc.IDGenerator) (*StaticDirectory, error) {
	devices := make([]camarc.Device, 0, len(cfg.Devices))
	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if d.Name == "" || d.Address == "" {
			return nil, fmt.Errorf("device %d: name and address are required", i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate device name: %s", d.Name)
		}
		seen[d.Name] = true
		devices = append(devices, camarc.Device{Name: d.Name, Address: d.Address})
	}
	return NewStaticDirectory(os.Getenv(AccountEnv), os.Getenv(PasswordEnv), devices, idgen), nil
}

func (d *StaticDirectory) Authenticate(ctx context.Context, account, password string) (*camarc.Session, error) {
	if d.account != "" {
		accountOK := subtle.ConstantTimeCompare([]byte(account), []byte(d.account)) == 1
		passwordOK := subtle.ConstantTimeCompare([]byte(password), []byte(d.password)) == 1
		if !accountOK || !passwordOK {
			return nil, ErrBadCredentials
		}
	}
	token := d.idgen.New()
	d.mu.Lock()
	d.sessions[token] = account
	d.mu.Unlock()
	return &camarc.Session{Account: account, Token: token}, nil
}

func (d *StaticDirectory) ListDevices(ctx context.Context, session *camarc.Session) ([]camarc.Device, error) {
	if session == nil {
		return nil, fmt.Errorf("listing devices: no session")
	}
	d.mu.Lock()
	_, ok := d.sessions[session.Token]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("listing devices: unknown session")
	}
	return append([]camarc.Device(nil), d.devices...), nil
}

// ResolveRTSPURL authenticates with the environment credentials, finds the
// named device (or the first one), and returns its stream URL.
func ResolveRTSPURL(ctx context.Context, dir camarc.Directory, deviceName, verificationCode string) (string, error) {
	session, err := dir.Authenticate(ctx, os.Getenv(AccountEnv), os.Getenv(PasswordEnv))
	if err != nil {
		return "", fmt.Errorf("authenticating with directory: %w", err)
	}
	devices, err := dir.ListDevices(ctx, session)
	if err != nil {
		return "", err
	}
	device, err := camarc.FindDevice(devices, deviceName)
	if err != nil {
		return "", err
	}
	return camarc.RTSPURL(device.Address, verificationCode), nil
}
