// Package host implements the administrative actions of the rig: reading and
// rewriting the Ethernet configuration and rebooting the machine.
package host

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"

	"github.com/cjeanneret/SpectGo/internal/config"
	"github.com/cjeanneret/SpectGo/internal/debug"
)

// maxNetConfig bounds the bytes returned by NetConfig.
const maxNetConfig = 255

// Runner executes a command line already split into argv.
type Runner func(ctx context.Context, argv []string) error

// Host performs the administrative actions.
type Host struct {
	cfg    config.HostConfig
	run    Runner
	reboot func() error
}

// New returns a Host running commands with os/exec and rebooting through the kernel.
func New(cfg config.HostConfig) *Host {
	return &Host{cfg: cfg, run: execRunner, reboot: reboot}
}

// NewWithRunner is like New but runs commands and reboots through the given hooks.
func NewWithRunner(cfg config.HostConfig, run Runner, rebootFn func() error) *Host {
	return &Host{cfg: cfg, run: run, reboot: rebootFn}
}

// NetConfig returns the current network configuration file contents,
// "ERR" when it cannot be opened and "EMPTY" when it has no content.
func (h *Host) NetConfig() string {
	f, err := os.Open(h.cfg.NetConfigPath)
	if err != nil {
		debug.Error(errors.Wrapf(err, "open %s", h.cfg.NetConfigPath))
		return "ERR"
	}
	defer f.Close()

	buf := make([]byte, maxNetConfig)
	n, err := io.ReadFull(f, buf)
	if n == 0 {
		if err != nil && err != io.EOF {
			debug.Error(errors.Wrapf(err, "read %s", h.cfg.NetConfigPath))
		}
		return "EMPTY"
	}
	return string(buf[:n])
}

// NetParams are the addresses accepted by ChangeNet.
type NetParams struct {
	IP        netip.Addr
	Mask      netip.Addr
	Gateway   netip.Addr
	Broadcast netip.Addr
}

// ParseNetParams parses "ip=A mask=B gate=C brd=D" in any order.
func ParseNetParams(s string) (NetParams, error) {
	tokens, err := shlex.Split(s)
	if err != nil {
		return NetParams{}, errors.Wrap(err, "split network parameters")
	}
	values := make(map[string]string)
	for _, tok := range tokens {
		key, val, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		values[key] = val
	}

	var p NetParams
	fields := []struct {
		key string
		dst *netip.Addr
	}{
		{"ip", &p.IP},
		{"mask", &p.Mask},
		{"gate", &p.Gateway},
		{"brd", &p.Broadcast},
	}
	for _, f := range fields {
		raw, ok := values[f.key]
		if !ok {
			return NetParams{}, errors.Errorf("missing %s=", f.key)
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil || !addr.Is4() {
			return NetParams{}, errors.Errorf("bad %s address %q", f.key, raw)
		}
		*f.dst = addr
	}
	return p, nil
}

// Render formats the parameters in the OpenRC conf.d/net syntax.
func (p NetParams) Render() string {
	return fmt.Sprintf("config_eth0=\"%s netmask %s brd %s\"\nroutes_eth0=\"default via %s\"\n",
		p.IP, p.Mask, p.Broadcast, p.Gateway)
}

// ChangeNet validates params, replaces the network configuration file and
// restarts the network service.
func (h *Host) ChangeNet(ctx context.Context, params string) error {
	p, err := ParseNetParams(params)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(h.cfg.NetConfigPath, []byte(p.Render())); err != nil {
		return err
	}
	debug.Info("Network configuration written to %s", h.cfg.NetConfigPath)

	if h.cfg.NetRestartCmd == "" {
		return nil
	}
	argv, err := shlex.Split(h.cfg.NetRestartCmd)
	if err != nil {
		return errors.Wrap(err, "split restart command")
	}
	if len(argv) == 0 {
		return nil
	}
	if err := h.run(ctx, argv); err != nil {
		return errors.Wrapf(err, "run %q", h.cfg.NetRestartCmd)
	}
	return nil
}

// Reboot restarts the machine. Without allow_reboot it is only logged.
func (h *Host) Reboot() error {
	if !h.cfg.AllowReboot {
		debug.Info("REBOOT requested (disabled by configuration)")
		return nil
	}
	debug.Info("REBOOT")
	return h.reboot()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".net-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "replace network config")
}

func execRunner(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		debug.Verbose("%s: %s", argv[0], strings.TrimSpace(string(out)))
	}
	return err
}
