package containerengine

import (
	"archive/tar"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	containerNamePrefix = "org_"
	labelManaged        = "runbox.managed"
	labelOrganization   = "runbox.organizationId"
	labelTask           = "runbox.taskId"

	entrypointScript = "/app/entrypoint.sh"
	hostGatewayHost  = "host.docker.internal:host-gateway"
)

// Engine wraps a Docker client to run one-shot job containers.
type Engine struct {
	client  *client.Client
	network string
}

// New creates an Engine connected to the Docker daemon described by cfg.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	opts := []client.Opt{
		client.WithHost(cfg.Host),
		client.WithAPIVersionNegotiation(),
	}

	if cfg.TLSVerify {
		tlsConfig, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		httpClient := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConfig}}
		opts = append(opts, client.WithHTTPClient(httpClient))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &Engine{client: cli, network: cfg.Network}, nil
}

// Close releases the underlying Docker client.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// HealthCheck verifies the Docker daemon is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	_, err := e.client.Ping(ctx)
	return err
}

// JobContainerSpec describes the container to create for one job.
type JobContainerSpec struct {
	TaskID         string
	OrganizationID string
	Image          string
	FolderArg      string // passed to entrypoint.sh; "all" when no folder scoping was requested
	Env            []string
	RegistryAuth   *RegistryAuth
}

func containerName(organizationID, taskID string) string {
	return fmt.Sprintf("%stask_%s", containerNamePrefix+organizationID+"_", taskID)
}

// PullImage best-effort pulls spec.Image. A failure here is not fatal on its
// own: if the image already exists locally the job can still run, and if it
// doesn't, container creation will surface the failure as CONTAINER_ORCHESTRATION.
func (e *Engine) PullImage(ctx context.Context, imageRef string, auth *RegistryAuth) error {
	var authStr string
	if auth != nil {
		authConfig := registry.AuthConfig{
			Username:      auth.Username,
			Password:      auth.Password,
			ServerAddress: auth.ServerAddress,
		}
		authJSON, err := json.Marshal(authConfig)
		if err != nil {
			return err
		}
		authStr = base64.URLEncoding.EncodeToString(authJSON)
	}

	out, err := e.client.ImagePull(ctx, imageRef, image.PullOptions{RegistryAuth: authStr})
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(io.Discard, out)
	return err
}

// CreateJobContainer creates (but does not start) the container for one job,
// with the fixed entrypoint contract from spec §4.2 step 5.
func (e *Engine) CreateJobContainer(ctx context.Context, spec JobContainerSpec) (string, error) {
	folderArg := spec.FolderArg
	if folderArg == "" {
		folderArg = "all"
	}

	containerConfig := &container.Config{
		Image:      spec.Image,
		Entrypoint: []string{"/bin/sh", entrypointScript},
		Cmd:        []string{folderArg},
		Env:        spec.Env,
		Labels: map[string]string{
			labelManaged:      "true",
			labelOrganization: spec.OrganizationID,
			labelTask:         spec.TaskID,
		},
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		ExtraHosts: []string{hostGatewayHost},
	}

	var netConfig *network.NetworkingConfig
	if e.network != "" {
		if err := e.ensureNetwork(ctx); err != nil {
			return "", fmt.Errorf("failed to ensure network %q: %w", e.network, err)
		}
		netConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{e.network: {}},
		}
	}

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, netConfig, nil, containerName(spec.OrganizationID, spec.TaskID))
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *Engine) ensureNetwork(ctx context.Context) error {
	networks, err := e.client.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return err
	}
	for _, n := range networks {
		if n.Name == e.network {
			return nil
		}
	}
	_, err = e.client.NetworkCreate(ctx, e.network, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{labelManaged: "true"},
	})
	return err
}

// ansiEscape strips ANSI color/cursor sequences so accumulated log output and
// classifier heuristics operate on plain text.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(b []byte) []byte {
	return ansiEscape.ReplaceAll(b, nil)
}

// chunkWriter strips ANSI sequences from each write and forwards the result
// to onChunk. It never blocks on its own (the caller is expected to make
// onChunk non-blocking, e.g. by pushing onto a bounded channel).
type chunkWriter struct {
	onChunk func([]byte)
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	clean := stripANSI(p)
	if len(clean) > 0 && w.onChunk != nil {
		w.onChunk(clean)
	}
	return len(p), nil
}

// StartAndStream starts the container and blocks, demultiplexing its
// combined stdout+stderr stream into onChunk, until the stream closes
// (normally because the container exited).
func (e *Engine) StartAndStream(ctx context.Context, containerID string, onChunk func([]byte)) error {
	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	logs, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to attach to container logs: %w", err)
	}
	defer logs.Close()

	w := &chunkWriter{onChunk: onChunk}
	if _, err := stdcopy.StdCopy(w, w, logs); err != nil && err != io.EOF {
		return fmt.Errorf("error streaming container logs: %w", err)
	}
	return nil
}

// Wait blocks until the container exits and returns its exit code.
func (e *Engine) Wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("error waiting for container: %w", err)
	case status := <-statusCh:
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// CopyArtifact archives containerPath out of containerID and extracts it
// into hostDestDir, replacing any prior contents atomically (extract to a
// sibling temp directory, then rename over the destination). Returns an
// error the caller is expected to treat as best-effort (spec §7 ARTIFACT_COPY
// is never fatal).
func (e *Engine) CopyArtifact(ctx context.Context, containerID, containerPath, hostDestDir string) error {
	reader, _, err := e.client.CopyFromContainer(ctx, containerID, containerPath)
	if err != nil {
		return fmt.Errorf("failed to copy %s from container: %w", containerPath, err)
	}
	defer reader.Close()

	tmpDir := hostDestDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return fmt.Errorf("failed to clear temp artifact dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp artifact dir: %w", err)
	}

	if err := extractTar(reader, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("failed to extract artifact tar for %s: %w", containerPath, err)
	}

	if err := os.RemoveAll(hostDestDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("failed to replace existing artifact dir: %w", err)
	}
	if err := os.Rename(tmpDir, hostDestDir); err != nil {
		return fmt.Errorf("failed to finalize artifact dir: %w", err)
	}
	return nil
}

// extractTar writes the contents of a Docker CopyFromContainer tar stream
// into destDir, stripping the stream's single top-level directory entry
// (Docker always wraps the copied path in one).
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := stripTopLevel(hdr.Name)
		if name == "" {
			continue
		}
		target := filepath.Join(destDir, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		default:
			// symlinks and other special entries aren't expected in test
			// report output; skip rather than fail the whole copy.
		}
	}
}

func stripTopLevel(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return ""
}

// RemoveContainer force-removes the container, ignoring "not found" so the
// worker's guaranteed-cleanup path can call this unconditionally.
func (e *Engine) RemoveContainer(ctx context.Context, containerID string) error {
	err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// FindByTask looks up a job container by its (organizationID, taskID) labels,
// used by operational tooling rather than the worker's own hot path (the
// worker always has the container ID from CreateJobContainer).
func (e *Engine) FindByTask(ctx context.Context, organizationID, taskID string) (string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", fmt.Sprintf("%s=%s", labelOrganization, organizationID))
	filterArgs.Add("label", fmt.Sprintf("%s=%s", labelTask, taskID))

	containers, err := e.client.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return "", err
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("no container found for task %s/%s", organizationID, taskID)
	}
	return containers[0].ID, nil
}

func loadTLSConfig(cfg *Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	cert, err := tls.X509KeyPair([]byte(cfg.CertPEM), []byte(cfg.KeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate from PEM: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM([]byte(cfg.CAPEM)) {
		return nil, fmt.Errorf("failed to append CA certificate from PEM")
	}
	tlsConfig.RootCAs = caCertPool

	tlsConfig.ServerName = cfg.ExtractDockerHost()
	return tlsConfig, nil
}

// DefaultJobTimeout is exposed for the worker's context.WithTimeout call so both
// packages agree on the soft per-job ceiling's default.
const DefaultJobTimeout = time.Hour
