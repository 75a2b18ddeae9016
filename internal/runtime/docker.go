package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerAdapter implements Adapter against the Docker Engine API.
type DockerAdapter struct {
	api    *client.Client
	logger *slog.Logger
}

// NewDockerAdapter connects to the Docker daemon at host (empty = negotiate
// from the environment, as the Docker CLI itself does).
func NewDockerAdapter(host string, logger *slog.Logger) (*DockerAdapter, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating docker client: %v", ErrUnavailable, err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("%w: pinging docker daemon: %v", ErrUnavailable, err)
	}
	return &DockerAdapter{api: cli, logger: logger}, nil
}

func (d *DockerAdapter) Close() error { return d.api.Close() }

func (d *DockerAdapter) EnsureImage(ctx context.Context, image string, progress ProgressFunc) error {
	_, _, err := d.api.ImageInspectWithRaw(ctx, image)
	if err == nil {
		if progress != nil {
			progress(100, "image present")
		}
		return nil
	}
	if !client.IsErrNotFound(err) {
		return translateErr(err)
	}

	reader, err := d.api.ImagePull(ctx, image, dockertypes.ImagePullOptions{})
	if err != nil {
		return translateErr(err)
	}
	defer reader.Close()

	return aggregatePullProgress(reader, progress)
}

// pullEvent mirrors the subset of Docker's JSON pull-progress stream used
// to compute an aggregate percentage across layers.
type pullEvent struct {
	Status   string `json:"status"`
	ID       string `json:"id"`
	Progress struct {
		Current int64 `json:"current"`
		Total   int64 `json:"total"`
	} `json:"progressDetail"`
}

func aggregatePullProgress(r io.Reader, progress ProgressFunc) error {
	layers := map[string]*pullEvent{}
	dec := json.NewDecoder(r)
	var lastStatus string
	for {
		var ev pullEvent
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decoding pull progress: %w", err)
		}
		if ev.ID != "" {
			e := ev
			layers[ev.ID] = &e
		}
		lastStatus = ev.Status
		if progress != nil {
			pct := aggregateLayerPercent(layers)
			progress(pct, lastStatus)
		}
	}
	if progress != nil {
		progress(100, "pull complete")
	}
	return nil
}

func aggregateLayerPercent(layers map[string]*pullEvent) int {
	if len(layers) == 0 {
		return 0
	}
	var current, total int64
	for _, l := range layers {
		if l.Progress.Total > 0 {
			current += l.Progress.Current
			total += l.Progress.Total
		}
	}
	if total == 0 {
		return 0
	}
	pct := int(current * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (d *DockerAdapter) CreateContainer(ctx context.Context, spec ContainerSpec) (Ref, error) {
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	for _, p := range spec.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		key := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
		exposedPorts[key] = struct{}{}
		portBindings[key] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(p.HostPort)}}
	}

	labels := map[string]string{LabelPlatform: "true"}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	cpuQuota := int64(spec.CPU * CPUQuotaPeriod)
	memBytes := int64(spec.MemoryMB) * BytesPerMB

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Env:          spec.Env,
		ExposedPorts: exposedPorts,
		Labels:       labels,
	}
	hostCfg := &container.HostConfig{
		PortBindings: portBindings,
		Resources: container.Resources{
			CPUPeriod:    CPUQuotaPeriod,
			CPUQuota:     cpuQuota,
			Memory:       memBytes,
			MemorySwap:   memBytes, // memory == swap: no additional swap
			CapDrop:      []string{"ALL"},
			CapAdd:       []string{"CHOWN", "SETUID", "SETGID"},
		},
		SecurityOpt: []string{"no-new-privileges"},
		NetworkMode: "bridge",
	}

	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", translateErr(err)
	}
	return Ref(resp.ID), nil
}

func (d *DockerAdapter) Start(ctx context.Context, ref Ref) error {
	if err := d.api.ContainerStart(ctx, string(ref), container.StartOptions{}); err != nil {
		return translateErr(err)
	}
	return nil
}

func (d *DockerAdapter) Stop(ctx context.Context, ref Ref, grace time.Duration) error {
	secs := int(grace.Seconds())
	err := d.api.ContainerStop(ctx, string(ref), container.StopOptions{Timeout: &secs})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil // already gone: treat as success
		}
		return translateErr(err)
	}
	return nil
}

func (d *DockerAdapter) Restart(ctx context.Context, ref Ref, grace time.Duration) error {
	secs := int(grace.Seconds())
	if err := d.api.ContainerRestart(ctx, string(ref), container.StopOptions{Timeout: &secs}); err != nil {
		return translateErr(err)
	}
	return nil
}

func (d *DockerAdapter) Remove(ctx context.Context, ref Ref, force bool) error {
	err := d.api.ContainerRemove(ctx, string(ref), container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil // not found: treat as success
		}
		return translateErr(err)
	}
	return nil
}

func (d *DockerAdapter) Inspect(ctx context.Context, ref Ref) (*InspectResult, error) {
	info, err := d.api.ContainerInspect(ctx, string(ref))
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, translateErr(err)
	}
	return &InspectResult{
		Status:   info.State.Status,
		Running:  info.State.Running,
		ExitCode: info.State.ExitCode,
	}, nil
}

func (d *DockerAdapter) WaitRunning(ctx context.Context, ref Ref, deadline time.Duration) (bool, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		info, err := d.Inspect(deadlineCtx, ref)
		if err != nil {
			return false, err
		}
		if info == nil {
			return false, nil
		}
		if info.Running {
			return true, nil
		}
		if info.Status == "exited" || info.Status == "dead" {
			return false, nil
		}
		select {
		case <-deadlineCtx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

func (d *DockerAdapter) Stats(ctx context.Context, ref Ref) (*ContainerMetrics, error) {
	resp, err := d.api.ContainerStats(ctx, string(ref), false)
	if err != nil {
		return nil, translateErr(err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}

	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage - raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage - raw.PreCPUStats.SystemUsage)
	cpuCount := float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
	if cpuCount == 0 {
		cpuCount = 1
	}
	var cpuPercent float64
	if systemDelta > 0 && cpuDelta > 0 {
		cpuPercent = (cpuDelta / systemDelta) * cpuCount * 100
	}

	var memPercent float64
	if raw.MemoryStats.Limit > 0 {
		memPercent = float64(raw.MemoryStats.Usage) / float64(raw.MemoryStats.Limit) * 100
	}

	var rx, tx uint64
	for _, n := range raw.Networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}

	var blkRead, blkWrite uint64
	for _, e := range raw.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(e.Op) {
		case "read":
			blkRead += e.Value
		case "write":
			blkWrite += e.Value
		}
	}

	return &ContainerMetrics{
		CPUPercent:      cpuPercent,
		MemUsageBytes:   raw.MemoryStats.Usage,
		MemLimitBytes:   raw.MemoryStats.Limit,
		MemPercent:      memPercent,
		NetRxBytes:      rx,
		NetTxBytes:      tx,
		BlockReadBytes:  blkRead,
		BlockWriteBytes: blkWrite,
	}, nil
}

func (d *DockerAdapter) StreamLogs(ctx context.Context, ref Ref, since time.Time) (<-chan LogEvent, error) {
	reader, err := d.api.ContainerLogs(ctx, string(ref), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Since:      formatSince(since),
		Timestamps: true,
	})
	if err != nil {
		return nil, translateErr(err)
	}

	out := make(chan LogEvent, 256)
	go func() {
		defer close(out)
		defer reader.Close()
		demuxLogs(reader, out)
	}()
	return out, nil
}

func (d *DockerAdapter) GetLogs(ctx context.Context, ref Ref, tail int) ([]LogEvent, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Timestamps: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	reader, err := d.api.ContainerLogs(ctx, string(ref), opts)
	if err != nil {
		return nil, translateErr(err)
	}
	defer reader.Close()

	out := make(chan LogEvent, 256)
	go func() {
		defer close(out)
		demuxLogs(reader, out)
	}()

	var events []LogEvent
	for ev := range out {
		events = append(events, ev)
	}
	return events, nil
}

// demuxLogs decodes the Docker multiplexed log stream framing: an 8-byte
// header per frame (stream type in byte 0, big-endian uint32 length in
// bytes 4..8) followed by the payload.
func demuxLogs(r io.Reader, out chan<- LogEvent) {
	br := bufio.NewReader(r)
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			return
		}
		streamType := header[0]
		size := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return
		}

		stream := "stdout"
		if streamType == 2 {
			stream = "stderr"
		}

		for _, line := range strings.Split(strings.TrimRight(string(payload), "\n"), "\n") {
			if line == "" {
				continue
			}
			ts, text := splitTimestamp(line)
			out <- LogEvent{Stream: stream, Text: text, Timestamp: ts}
		}
	}
}

// splitTimestamp parses an RFC3339Nano-prefixed log line as emitted when
// Timestamps:true is requested, falling back to time.Now on parse failure.
func splitTimestamp(line string) (time.Time, string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 2 {
		if ts, err := time.Parse(time.RFC3339Nano, parts[0]); err == nil {
			return ts, parts[1]
		}
	}
	return time.Now().UTC(), line
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (d *DockerAdapter) ExecBatch(ctx context.Context, ref Ref, argv []string) (*ExecResult, error) {
	execResp, err := d.api.ContainerExecCreate(ctx, string(ref), dockertypes.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          argv,
	})
	if err != nil {
		return nil, translateErr(err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, execResp.ID, dockertypes.ExecStartCheck{})
	if err != nil {
		return nil, translateErr(err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, attach.Reader); err != nil {
		return nil, fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := d.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, translateErr(err)
	}

	return &ExecResult{ExitCode: inspect.ExitCode, Output: buf.String()}, nil
}

func (d *DockerAdapter) ExecInteractive(ctx context.Context, ref Ref, cols, rows int) (PTYSession, error) {
	execResp, err := d.api.ContainerExecCreate(ctx, string(ref), dockertypes.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  true,
		Cmd:          []string{"/bin/sh"},
		Tty:          true,
	})
	if err != nil {
		return nil, translateErr(err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, execResp.ID, dockertypes.ExecStartCheck{Tty: true})
	if err != nil {
		return nil, translateErr(err)
	}

	session := &dockerPTYSession{api: d.api, execID: execResp.ID, conn: attach}
	if err := session.Resize(ctx, cols, rows); err != nil {
		d.logger.Warn("initial pty resize failed", "error", err)
	}
	return session, nil
}

// dockerPTYSession wraps a Docker exec attach stream as a PTYSession.
type dockerPTYSession struct {
	api    *client.Client
	execID string
	conn   dockertypes.HijackedResponse
}

func (s *dockerPTYSession) Read(p []byte) (int, error)  { return s.conn.Reader.Read(p) }
func (s *dockerPTYSession) Write(p []byte) (int, error) { return s.conn.Conn.Write(p) }

func (s *dockerPTYSession) Resize(cols, rows int) error {
	return s.resize(context.Background(), cols, rows)
}

func (s *dockerPTYSession) resize(ctx context.Context, cols, rows int) error {
	return s.api.ContainerExecResize(ctx, s.execID, container.ResizeOptions{
		Width:  uint(cols),
		Height: uint(rows),
	})
}

func (s *dockerPTYSession) Close() error {
	s.conn.Close()
	return nil
}

func (d *DockerAdapter) ListOwned(ctx context.Context) ([]Ref, error) {
	args := filters.NewArgs(filters.Arg("label", LabelPlatform+"=true"))
	list, err := d.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, translateErr(err)
	}
	refs := make([]Ref, 0, len(list))
	for _, c := range list {
		refs = append(refs, Ref(c.ID))
	}
	return refs, nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsErrNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case client.IsErrConnectionFailed(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
