// environment.go: Host environment detection for profile binding.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/net"
)

// Environment variable overrides for fingerprint detection. Deployments pin
// fingerprints through these when autodetection is too volatile (containers,
// migrating VMs); when set, the override wins over detection.
const (
	EnvCPUFingerprint   = "IHP_CPU_FINGERPRINT"
	EnvNICFingerprint   = "IHP_NIC_FINGERPRINT"
	EnvOSFingerprint    = "IHP_OS_FINGERPRINT"
	EnvBuildFingerprint = "IHP_BUILD_FINGERPRINT"
)

// DetectEnvironmentProfile assembles a server environment profile from the
// running host.
//
// CPU, NIC, and OS fingerprints are detected via gopsutil; the application
// build fingerprint has no detectable source and must come from the
// IHP_BUILD_FINGERPRINT override (release pipelines inject the build hash
// there). Detection is best-effort: a probe failure leaves that field to its
// override, and an empty field with no override is an error because an
// unbound fingerprint would weaken the environment hash.
func DetectEnvironmentProfile() (*ServerEnvironmentProfile, error) {
	sep := &ServerEnvironmentProfile{
		CPUFingerprint:      detectCPUFingerprint(),
		NICFingerprint:      detectNICFingerprint(),
		OSFingerprint:       detectOSFingerprint(),
		AppBuildFingerprint: "",
	}

	applyOverride(&sep.CPUFingerprint, EnvCPUFingerprint)
	applyOverride(&sep.NICFingerprint, EnvNICFingerprint)
	applyOverride(&sep.OSFingerprint, EnvOSFingerprint)
	applyOverride(&sep.AppBuildFingerprint, EnvBuildFingerprint)

	for name, value := range map[string]string{
		"cpu_fingerprint":       sep.CPUFingerprint,
		"nic_fingerprint":       sep.NICFingerprint,
		"os_fingerprint":        sep.OSFingerprint,
		"app_build_fingerprint": sep.AppBuildFingerprint,
	} {
		if value == "" {
			return nil, fmt.Errorf("%w: %s could not be detected and has no override", ErrConfig, name)
		}
	}
	return sep, nil
}

func applyOverride(field *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*field = v
	}
}

// detectCPUFingerprint combines model name, physical core count, and
// architecture. Frequency is excluded; it scales dynamically and would churn
// the hash.
func detectCPUFingerprint() string {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		return ""
	}
	counts, err := cpu.Counts(false)
	if err != nil {
		counts = len(infos)
	}
	return fmt.Sprintf("%s/cores=%d/arch=%s", strings.TrimSpace(infos[0].ModelName), counts, runtime.GOARCH)
}

// detectNICFingerprint concatenates the hardware addresses of physical-looking
// interfaces in sorted order, so enumeration order does not churn the hash.
func detectNICFingerprint() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	addrs := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" {
			continue
		}
		// Loopback and point-to-point pseudo interfaces carry no stable
		// hardware identity.
		skip := false
		for _, flag := range iface.Flags {
			if flag == "loopback" || flag == "pointtopoint" {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		addrs = append(addrs, iface.HardwareAddr)
	}
	if len(addrs) == 0 {
		return ""
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}

// detectOSFingerprint combines platform identity and kernel version. Uptime
// and hostname are excluded as non-structural.
func detectOSFingerprint() string {
	info, err := host.Info()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/kernel=%s", info.OS, info.Platform, info.PlatformVersion, info.KernelVersion)
}
