// Command vidttool is the desktop-side license agent. It activates the
// license for this machine, keeps revalidating on a fixed interval and exits
// with a message when the session is revoked.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/phattra-dev/vidttool/internal/client"
	"github.com/phattra-dev/vidttool/internal/config"
	"github.com/phattra-dev/vidttool/internal/infrastructure"
	"github.com/phattra-dev/vidttool/internal/security"
	v1 "github.com/phattra-dev/vidttool/pkg/contracts/api/v1"
)

func main() {
	_ = godotenv.Load()

	licenseKey := flag.String("key", os.Getenv("VIDTTOOL_LICENSE_KEY"), "license key")
	deactivate := flag.Bool("deactivate", false, "release this machine's slot and exit")
	flag.Parse()

	if err := run(*licenseKey, *deactivate); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(licenseKey string, deactivate bool) error {
	if licenseKey == "" {
		return fmt.Errorf("a license key is required (-key or VIDTTOOL_LICENSE_KEY)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return err
	}

	identity := security.NewManager()
	fingerprint, err := identity.Fingerprint()
	if err != nil {
		return fmt.Errorf("derive machine fingerprint: %w", err)
	}
	deviceID, err := identity.DeviceID()
	if err != nil {
		return fmt.Errorf("derive device id: %w", err)
	}

	api := client.New(
		client.WithBaseURL(cfg.Client.ServerURL),
		client.WithUserAgent("vidttool/"+version),
	)

	if deactivate {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
		defer cancel()
		resp, err := api.Deactivate(ctx, v1.DeactivateRequest{
			LicenseKey:         licenseKey,
			MachineFingerprint: fingerprint,
		})
		if err != nil {
			return err
		}
		fmt.Printf("released=%t\n", resp.Released)
		return nil
	}

	cacheDir := cfg.Client.CacheDir
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		cacheDir = filepath.Join(home, ".vidttool")
	}
	cache := client.NewCache(cacheDir, fingerprint,
		time.Duration(cfg.Client.MaxOfflineHours)*time.Hour)

	poller := client.NewPoller(api, cache, client.PollerConfig{
		LicenseKey:         licenseKey,
		MachineFingerprint: fingerprint,
		DeviceID:           deviceID,
		AppVersion:         version,
		Interval:           cfg.Client.PollInterval,
		Logger:             logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go poller.Run(ctx)

	for ev := range poller.Events() {
		switch ev.Kind {
		case client.EventBound:
			if ev.Offline {
				logger.Info("license valid from offline cache")
			} else {
				logger.Info("license valid", "message", ev.Message)
			}
		case client.EventTransient:
			logger.Warn("server unreachable, retrying", "error", ev.Err)
		case client.EventRevoked:
			msg := ev.Message
			if ev.BanReason != "" {
				msg = ev.BanReason
			}
			return fmt.Errorf("license session ended (%s): %s", ev.Decision, msg)
		}
	}
	return nil
}
