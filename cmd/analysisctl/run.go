package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	app "github.com/ahrav/analysis-armada/internal/app/analysis"
	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// objectFlags describe the object a run targets.
type objectFlags struct {
	file    string
	objType string
	id      string
	attrs   map[string]string
}

func (f *objectFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "file whose contents become the object's payload")
	flags.StringVarP(&f.objType, "type", "t", "Sample", "object type")
	flags.StringVar(&f.id, "id", "", "object id (defaults to the payload md5)")
	flags.StringToStringVar(&f.attrs, "attr", nil, "object attributes as key=value")
}

// target builds the object described by the flags.
func (f *objectFlags) target() (*domain.Target, error) {
	t := &domain.Target{ObjectID: f.id, ObjectType: f.objType, Attrs: make(map[string]any, len(f.attrs)+3)}
	for k, v := range f.attrs {
		t.Attrs[k] = v
	}

	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, fmt.Errorf("reading object file: %w", err)
		}
		sum := md5.Sum(data)
		md5hex := hex.EncodeToString(sum[:])
		t.Data = data
		t.Attrs["filename"] = filepath.Base(f.file)
		t.Attrs["filedata"] = true
		t.Attrs["md5"] = md5hex
		t.Attrs["size"] = len(data)
		if t.ObjectID == "" {
			t.ObjectID = md5hex
		}
	}
	if t.ObjectID == "" {
		return nil, fmt.Errorf("an object id is required when no file is given")
	}
	return t, nil
}

// runFlags are shared by run and triage.
type runFlags struct {
	object objectFlags
	user   string
	mode   string
}

func (f *runFlags) register(cmd *cobra.Command) {
	f.object.register(cmd)
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "analyst recorded on the tasks (defaults to the configured username)")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "", "dispatch mode: local, thread or process (defaults to the configured mode)")
}

func (f *runFlags) resolve(opts *rootOptions) (*domain.Target, string, app.Mode, error) {
	target, err := f.object.target()
	if err != nil {
		return nil, "", "", err
	}
	user := f.user
	if user == "" {
		user = opts.cfg.Environment.Username
	}
	var mode app.Mode
	if f.mode != "" {
		if mode, err = app.ParseMode(f.mode); err != nil {
			return nil, "", "", err
		}
	}
	return target, user, mode, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		flags  runFlags
		force  bool
		config []string
	)
	cmd := &cobra.Command{
		Use:   "run <service>",
		Short: "Run one service against an object and print the finished task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, user, mode, err := flags.resolve(opts)
			if err != nil {
				return err
			}
			custom, err := parseAssignments(config)
			if err != nil {
				return err
			}

			return withEnvironment(cmd, opts, func(env *app.Environment) error {
				ctx := cmd.Context()
				h, err := env.RunService(ctx, app.RunRequest{
					Service:      args[0],
					Object:       target,
					User:         user,
					Mode:         mode,
					Force:        force,
					CustomConfig: custom,
				})
				if err != nil {
					return err
				}
				task, err := h.Wait(ctx)
				if err != nil {
					return err
				}
				return writeSnapshots(cmd.OutOrStdout(), task)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "run even if results exist or the service declines the object")
	cmd.Flags().StringArrayVar(&config, "set", nil, "per-run config override as key=value")
	return cmd
}

func newTriageCmd(opts *rootOptions) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Run every enabled triage service against an object",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, user, mode, err := flags.resolve(opts)
			if err != nil {
				return err
			}
			return withEnvironment(cmd, opts, func(env *app.Environment) error {
				ctx := cmd.Context()
				handles, err := env.Triage(ctx, target, user, mode)
				if err != nil {
					return err
				}
				if err := app.WaitAll(ctx, handles...); err != nil {
					return err
				}
				tasks := make([]*domain.Task, 0, len(handles))
				for _, h := range handles {
					tasks = append(tasks, h.Task())
				}
				return writeSnapshots(cmd.OutOrStdout(), tasks...)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// writeSnapshots prints the tasks as indented JSON. Artifact payloads are
// omitted; they are persisted as objects by the store.
func writeSnapshots(w io.Writer, tasks ...*domain.Task) error {
	snaps := make([]domain.TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snap := t.Snapshot()
		for i := range snap.Artifacts {
			snap.Artifacts[i].Data = nil
		}
		snaps = append(snaps, snap)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(snaps) == 1 {
		return enc.Encode(snaps[0])
	}
	return enc.Encode(snaps)
}

// withApp wires the application for a command and releases it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(*application) error) error {
	ctx := cmd.Context()
	if d := opts.cfg.Environment.RunTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
		cmd.SetContext(ctx)
	}

	a, err := newApplication(ctx, opts.cfg, appOptions{logOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(a)
}

func withEnvironment(cmd *cobra.Command, opts *rootOptions, fn func(*app.Environment) error) error {
	return withApp(cmd, opts, func(a *application) error {
		env, err := a.Environment(cmd.Context(), opts.workerArgs())
		if err != nil {
			return err
		}
		return fn(env)
	})
}
