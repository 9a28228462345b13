package docker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"

	"github.com/worldkeeper/worldkeeper/pkg/environment"
)

const (
	// ContainerDataDir is where the image expects the server directory.
	ContainerDataDir = "/data"

	LabelManaged    = "worldkeeper.managed"
	LabelConfigHash = "worldkeeper.config-hash"
	LabelWorkDir    = "worldkeeper.workdir"
)

// Pure helper functions for container configuration assembly

// Spec is the engine-independent description of the server container.
type Spec struct {
	Name          string
	Image         string
	Env           []string // sorted KEY=VALUE
	WorkDir       string   // host path bind-mounted to DataMount
	DataMount     string
	Ports         []PortMapping
	Labels        map[string]string
	RestartPolicy string
}

// EnvConfig holds the inputs of BuildContainerEnv.
type EnvConfig struct {
	Desired      environment.Desired
	Version      string
	EULA         bool
	DataMount    string
	RCONPassword string
	RCONPort     int
	ServerPort   int
}

// BuildContainerEnv maps a desired environment onto the variables understood
// by the itzg/minecraft-server image. The result is sorted.
func BuildContainerEnv(cfg *EnvConfig) []string {
	d := cfg.Desired
	vars := map[string]string{
		"ENABLE_RCON":   "true",
		"RCON_PASSWORD": cfg.RCONPassword,
		"RCON_PORT":     strconv.Itoa(cfg.RCONPort),
		"SERVER_PORT":   strconv.Itoa(cfg.ServerPort),
	}
	if cfg.EULA {
		vars["EULA"] = "TRUE"
	}

	kind := d.Kind
	if kind == "" {
		kind = environment.KindVanilla
	}
	vars["TYPE"] = string(kind)
	if kind == environment.KindCustom {
		dataDir := cfg.DataMount
		if dataDir == "" {
			dataDir = ContainerDataDir
		}
		vars["CUSTOM_SERVER"] = path.Join(dataDir, d.Artifact)
	}
	if cfg.Version != "" {
		vars["VERSION"] = cfg.Version
	}

	switch {
	case d.Memory.Value != "":
		vars["MEMORY"] = d.Memory.Value
	case !d.Memory.IsZero():
		if d.Memory.Min != "" {
			vars["INIT_MEMORY"] = d.Memory.Min
		}
		if d.Memory.Max != "" {
			vars["MAX_MEMORY"] = d.Memory.Max
		}
	}
	if len(d.ExtraFlags) > 0 {
		vars["JVM_OPTS"] = strings.Join(d.ExtraFlags, " ")
	}
	if d.Headless {
		vars["EXTRA_ARGS"] = "nogui"
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

// BuildContainerMounts binds the host server directory into the container.
func BuildContainerMounts(spec *Spec) []mount.Mount {
	target := spec.DataMount
	if target == "" {
		target = ContainerDataDir
	}
	return []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: spec.WorkDir,
			Target: target,
		},
	}
}

// BuildPortBindings converts the spec ports into docker's exposed set and map.
func BuildPortBindings(ports []PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %d/%s: %w", p.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: strconv.Itoa(p.HostPort),
		})
	}
	return exposed, bindings, nil
}

// BuildContainerConfig assembles the container-level configuration.
func BuildContainerConfig(spec *Spec) (*container.Config, error) {
	exposed, _, err := BuildPortBindings(spec.Ports)
	if err != nil {
		return nil, err
	}
	return &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
		Tty:          false,
		OpenStdin:    false,
	}, nil
}

// BuildContainerHostConfig assembles host-level settings: the bind mount,
// published ports and the restart policy.
func BuildContainerHostConfig(spec *Spec) (*container.HostConfig, error) {
	_, bindings, err := BuildPortBindings(spec.Ports)
	if err != nil {
		return nil, err
	}
	policy := container.RestartPolicyMode(spec.RestartPolicy)
	if policy == "" {
		policy = container.RestartPolicyUnlessStopped
	}
	return &container.HostConfig{
		Mounts:        BuildContainerMounts(spec),
		PortBindings:  bindings,
		RestartPolicy: container.RestartPolicy{Name: policy},
		// Keep explicit non-privileged defaults for regression visibility.
		Privileged:     false,
		ReadonlyRootfs: false,
	}, nil
}

// ConfigHash digests every field that requires recreating the container when
// it changes. Labels other than the hash itself are included.
func ConfigHash(spec *Spec) string {
	h := sha256.New()
	fmt.Fprintf(h, "image=%s\n", spec.Image)
	fmt.Fprintf(h, "workdir=%s:%s\n", spec.WorkDir, spec.DataMount)
	fmt.Fprintf(h, "restart=%s\n", spec.RestartPolicy)
	for _, e := range spec.Env {
		fmt.Fprintf(h, "env=%s\n", e)
	}

	ports := make([]string, 0, len(spec.Ports))
	for _, p := range spec.Ports {
		ports = append(ports, p.String())
	}
	sort.Strings(ports)
	for _, p := range ports {
		fmt.Fprintf(h, "port=%s\n", p)
	}

	keys := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		if k != LabelConfigHash {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "label=%s=%s\n", k, spec.Labels[k])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
