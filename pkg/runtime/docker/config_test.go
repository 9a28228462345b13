package docker

import (
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldkeeper/worldkeeper/pkg/environment"
)

func TestBuildContainerEnv(t *testing.T) {
	tests := []struct {
		name    string
		desired environment.Desired
		want    []string
		absent  []string
	}{
		{
			name: "custom artifact with single heap",
			desired: environment.Desired{
				Kind:     environment.KindCustom,
				Artifact: "paper-1.21.1.jar",
				Memory:   environment.Memory{Value: "4G"},
				Headless: true,
			},
			want: []string{
				"TYPE=CUSTOM",
				"CUSTOM_SERVER=/data/paper-1.21.1.jar",
				"MEMORY=4G",
				"EXTRA_ARGS=nogui",
			},
			absent: []string{"INIT_MEMORY", "MAX_MEMORY", "JVM_OPTS"},
		},
		{
			name: "split heap and flags",
			desired: environment.Desired{
				Kind:       environment.KindPaper,
				Memory:     environment.Memory{Min: "1G", Max: "4G"},
				ExtraFlags: []string{"-XX:+UseG1GC", "-Dfile.encoding=UTF-8"},
			},
			want: []string{
				"TYPE=PAPER",
				"INIT_MEMORY=1G",
				"MAX_MEMORY=4G",
				"JVM_OPTS=-XX:+UseG1GC -Dfile.encoding=UTF-8",
			},
			absent: []string{"CUSTOM_SERVER", "MEMORY=", "EXTRA_ARGS"},
		},
		{
			name:    "default kind",
			desired: environment.Desired{},
			want:    []string{"TYPE=VANILLA"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := BuildContainerEnv(&EnvConfig{
				Desired:      tt.desired,
				Version:      "1.21.1",
				EULA:         true,
				RCONPassword: "pw",
				RCONPort:     25575,
				ServerPort:   25565,
			})
			common := []string{"EULA=TRUE", "VERSION=1.21.1", "ENABLE_RCON=true", "RCON_PASSWORD=pw", "RCON_PORT=25575", "SERVER_PORT=25565"}
			for _, w := range append(common, tt.want...) {
				assert.Contains(t, env, w)
			}
			for _, a := range tt.absent {
				for _, e := range env {
					assert.False(t, strings.HasPrefix(e, a), "unexpected %s", e)
				}
			}
			assert.IsNonDecreasing(t, env)
		})
	}
}

func TestBuildContainerHostConfig(t *testing.T) {
	spec := &Spec{
		WorkDir: "/srv/world",
		Ports: []PortMapping{
			{HostPort: 25565, ContainerPort: 25565},
			{HostIP: "127.0.0.1", HostPort: 25575, ContainerPort: 25575, Protocol: "tcp"},
		},
	}

	hc, err := BuildContainerHostConfig(spec)
	require.NoError(t, err)

	assert.Equal(t, container.RestartPolicyUnlessStopped, hc.RestartPolicy.Name)
	assert.False(t, hc.Privileged)
	require.Len(t, hc.Mounts, 1)
	assert.Equal(t, mount.TypeBind, hc.Mounts[0].Type)
	assert.Equal(t, "/srv/world", hc.Mounts[0].Source)
	assert.Equal(t, ContainerDataDir, hc.Mounts[0].Target)

	rcon := hc.PortBindings[nat.Port("25575/tcp")]
	require.Len(t, rcon, 1)
	assert.Equal(t, "127.0.0.1", rcon[0].HostIP)
	assert.Equal(t, "25575", rcon[0].HostPort)

	cfg, err := BuildContainerConfig(spec)
	require.NoError(t, err)
	assert.Contains(t, cfg.ExposedPorts, nat.Port("25565/tcp"))
}

func TestConfigHash(t *testing.T) {
	base := &Spec{
		Image:   "itzg/minecraft-server:latest",
		Env:     []string{"A=1", "B=2"},
		WorkDir: "/srv/world",
		Ports:   []PortMapping{{HostPort: 1, ContainerPort: 1}, {HostPort: 2, ContainerPort: 2}},
		Labels:  map[string]string{LabelManaged: "true"},
	}
	h := ConfigHash(base)

	reordered := *base
	reordered.Ports = []PortMapping{{HostPort: 2, ContainerPort: 2}, {HostPort: 1, ContainerPort: 1}}
	reordered.Labels = map[string]string{LabelManaged: "true", LabelConfigHash: "stale"}
	assert.Equal(t, h, ConfigHash(&reordered))

	changed := *base
	changed.Env = []string{"A=1", "B=3"}
	assert.NotEqual(t, h, ConfigHash(&changed))

	changed = *base
	changed.Image = "itzg/minecraft-server:java21"
	assert.NotEqual(t, h, ConfigHash(&changed))
}

func TestPortMappingString(t *testing.T) {
	assert.Equal(t, "127.0.0.1:25575->25575/tcp", PortMapping{HostIP: "127.0.0.1", HostPort: 25575, ContainerPort: 25575}.String())
}
