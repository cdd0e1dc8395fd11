package backstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/branchfs/branchfs/core"
)

const (
	volumePollInterval = 50 * time.Millisecond
	volumePollTimeout  = 10 * time.Second
)

// ephemeralVolume is a memory-backed CoW volume provisioned through the
// host's native tooling for the lifetime of one Real backstore:
// a sparse backing file attached to a loop device, formatted btrfs and
// mounted at a private mount point.
type ephemeralVolume struct {
	runner     ToolRunner
	logger     *slog.Logger
	backing    string
	loopDev    string
	mountPoint string
}

// provisionVolume walks the allocate → format → mount chain, rolling back
// completed steps best-effort when a later one fails.
func provisionVolume(ctx context.Context, runner ToolRunner, logger *slog.Logger, sizeMB int64) (*ephemeralVolume, error) {
	v := &ephemeralVolume{runner: runner, logger: logger}

	backing, err := os.CreateTemp("", "branchfs-vol-*.img")
	if err != nil {
		return nil, core.FromOSError("provision_volume", err)
	}
	v.backing = backing.Name()
	if err := backing.Truncate(sizeMB << 20); err != nil {
		backing.Close()
		v.teardown()
		return nil, core.FromOSError("provision_volume", err)
	}
	if err := backing.Close(); err != nil {
		v.teardown()
		return nil, core.FromOSError("provision_volume", err)
	}

	dev, err := runner.Run(ctx, "losetup", "--find", "--show", v.backing)
	if err != nil {
		v.teardown()
		return nil, classifyToolError(err)
	}
	v.loopDev = strings.TrimSpace(dev)

	if _, err := runner.Run(ctx, "mkfs.btrfs", "-q", v.loopDev); err != nil {
		v.teardown()
		return nil, classifyToolError(err)
	}

	mnt, err := os.MkdirTemp("", "branchfs-mnt-*")
	if err != nil {
		v.teardown()
		return nil, core.FromOSError("provision_volume", err)
	}
	v.mountPoint = mnt

	if _, err := runner.Run(ctx, "mount", "-t", "btrfs", v.loopDev, v.mountPoint); err != nil {
		v.teardown()
		return nil, classifyToolError(err)
	}

	if err := v.waitMounted(ctx); err != nil {
		v.teardown()
		return nil, err
	}
	return v, nil
}

// waitMounted polls the mount table until the volume appears. The poll is
// rate-limited and bounded; mount(8) returning success does not guarantee
// the entry is visible yet.
func (v *ephemeralVolume) waitMounted(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, volumePollTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(volumePollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("volume %s never appeared at %s: %w", v.loopDev, v.mountPoint, core.ErrBusy)
		}
		mounted, err := v.isMounted()
		if err != nil {
			return err
		}
		if mounted {
			return nil
		}
	}
}

func (v *ephemeralVolume) isMounted() (bool, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false, core.FromOSError("provision_volume", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == v.mountPoint {
			return true, nil
		}
	}
	return false, nil
}

// teardown unwinds whatever was provisioned. Every step tolerates
// failure; teardown frequently runs during unwind and must never abort.
func (v *ephemeralVolume) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), volumePollTimeout)
	defer cancel()

	if v.mountPoint != "" {
		if _, err := v.runner.Run(ctx, "umount", "-f", v.mountPoint); err != nil {
			v.logf("unmount failed", "mount_point", v.mountPoint, "error", err)
		}
		if err := os.Remove(v.mountPoint); err != nil && !os.IsNotExist(err) {
			v.logf("mount point removal failed", "mount_point", v.mountPoint, "error", err)
		}
	}

	// Detach every loop device still referencing the backing file, not
	// just the one recorded at provision time.
	if v.backing != "" {
		out, err := v.runner.Run(ctx, "losetup", "-j", v.backing)
		if err != nil {
			v.logf("loop device scan failed", "backing", v.backing, "error", err)
		}
		for _, line := range strings.Split(out, "\n") {
			dev, _, ok := strings.Cut(strings.TrimSpace(line), ":")
			if !ok || !strings.HasPrefix(dev, "/dev/") {
				continue
			}
			if _, err := v.runner.Run(ctx, "losetup", "-d", dev); err != nil {
				v.logf("loop device detach failed", "device", dev, "error", err)
			}
		}
		if err := os.Remove(v.backing); err != nil && !os.IsNotExist(err) {
			v.logf("backing file removal failed", "backing", v.backing, "error", err)
		}
	}

}

func (v *ephemeralVolume) subvolPath() string {
	return filepath.Join(v.mountPoint, "root")
}

func (v *ephemeralVolume) logf(msg string, args ...any) {
	if v.logger != nil {
		v.logger.Debug(msg, args...)
	}
}
