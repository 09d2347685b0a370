package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"modkit/pkg/render"
	"modkit/services/content"
	"modkit/services/mods"
	"modkit/services/publisher"
	"modkit/services/watcher"
)

func (c *cli) newInitCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init <asset>",
		Short: "Create a descriptor for a prefab or scene",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			asset := args[0]
			if err := mods.ValidateAsset(asset); err != nil {
				return err
			}
			if !a.project.Exists(asset) {
				return &mods.ValidationError{Field: "asset", Message: fmt.Sprintf("Asset %s does not exist!", asset)}
			}
			if _, err := a.project.EnsureMeta(asset); err != nil {
				return err
			}
			d := mods.NewForAsset(asset, content.KindOf(asset))
			if name != "" {
				d.Name = name
			}
			d, created, err := a.store.Create(d)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(a.out, "created %s (%s)\n", d.Name, d.Type)
			} else {
				fmt.Fprintf(a.out, "%s already exists\n", d.Name)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Mod name, defaults to the asset name")
	return cmd
}

func (c *cli) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [mod]",
		Short: "Show descriptor state and whether a rebuild is needed",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			var descriptors []*mods.Descriptor
			if len(args) == 1 {
				name, err := a.resolve(args[0])
				if err != nil {
					return err
				}
				d, err := a.store.Load(name)
				if err != nil {
					return err
				}
				descriptors = append(descriptors, d)
			} else {
				all, err := a.store.List()
				if err != nil {
					return err
				}
				descriptors = all
			}
			if len(descriptors) == 0 {
				fmt.Fprintln(a.out, "no mods yet, create one with modctl init <asset>")
				return nil
			}

			engine, err := render.New()
			if err != nil {
				return err
			}
			for _, d := range descriptors {
				status := render.ModStatus{
					Name:       d.Name,
					ModType:    string(d.Type),
					Asset:      d.Asset,
					Version:    d.Version,
					ModID:      d.ModID,
					IsUploaded: d.IsUploaded,
					IsPublic:   d.IsPublic,
				}
				status.NeedsRebuild, _ = a.detector.NeedsRebuild(d.Asset, d.LastFingerprint)
				for _, p := range mods.Platforms {
					status.Builds = append(status.Builds, render.PlatformBuild{Platform: string(p), Path: d.BuildPath(p)})
				}
				out, err := engine.Render("status.tmpl", status)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, out)
			}
			return nil
		}),
	}
}

func (c *cli) newPackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <mod>",
		Short: "Build the mod for every platform when its content changed",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				orch, err := a.orchestrator(a.notifier(ctx, d))
				if err != nil {
					return err
				}
				return orch.PackMod(ctx, d, true)
			})
		}),
	}
}

func (c *cli) newReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <mod>",
		Short: "Pack the mod and upload every platform build",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				n := a.notifier(ctx, d)
				orch, err := a.orchestrator(n)
				if err != nil {
					return err
				}
				pub, err := a.publisher(n, nil)
				if err != nil {
					return err
				}
				return pub.Release(ctx, orch, d)
			})
		}),
	}
}

func (c *cli) newTestLocalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test-local <mod>",
		Short: "Pack the mod and copy the Windows build into the local test mods directory",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				orch, err := a.orchestrator(a.notifier(ctx, d))
				if err != nil {
					return err
				}
				dest, err := orch.DeployLocal(ctx, d, a.cfg.TestModsDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "copied to %s\n", dest)
				return nil
			})
		}),
	}
}

func (c *cli) newProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <mod>",
		Short: "Create the registry profile or push the descriptor's details to it",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				pub, err := a.publisher(a.notifier(ctx, d), nil)
				if err != nil {
					return err
				}
				return pub.CreateOrUpdateProfile(ctx, d)
			})
		}),
	}
}

func (c *cli) newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <mod>",
		Short: "Upload the built modfile of every platform",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				pub, err := a.publisher(a.notifier(ctx, d), nil)
				if err != nil {
					return err
				}
				return pub.Upload(ctx, d)
			})
		}),
	}
}

func (c *cli) newPublishCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "publish <mod>",
		Short: "Make the mod visible in the registry",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			confirm := confirmPrompt(a.in, a.out)
			if yes {
				confirm = nil
			}
			err := a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				pub, err := a.publisher(a.notifier(ctx, d), confirm)
				if err != nil {
					return err
				}
				return pub.Publish(ctx, d)
			})
			if errors.Is(err, publisher.ErrDeclined) {
				fmt.Fprintln(a.out, "publish cancelled")
				return nil
			}
			return err
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// confirmPrompt asks on out and accepts a line starting with y from in.
func confirmPrompt(in io.Reader, out io.Writer) func(d *mods.Descriptor) bool {
	return func(d *mods.Descriptor) bool {
		fmt.Fprintln(out, color.YellowString(publisher.PublishWarning))
		fmt.Fprintf(out, "Publish %s? [y/N] ", d.Name)
		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
}

func (c *cli) newRecoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <mod-id>",
		Short: "Recreate a local descriptor from a registry profile you own",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return &mods.ValidationError{Field: "mod_id", Message: fmt.Sprintf("%q is not a mod id", args[0])}
			}
			pub, err := a.publisher(a.notifier(ctx, nil), nil)
			if err != nil {
				return err
			}
			d, err := pub.RecoverDescriptor(ctx, a.store, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "recovered %s (%s) as %s\n", d.Name, d.Type, a.store.Path(d.Name))
			return nil
		}),
	}
}

func (c *cli) newOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open <mod>",
		Short: "Print the public page URL of the mod",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			name, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			d, err := a.store.Load(name)
			if err != nil {
				return err
			}
			pub, err := a.publisher(a.notifier(ctx, d), nil)
			if err != nil {
				return err
			}
			url, err := pub.PageURL(ctx, d)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, url)
			return nil
		}),
	}
}

func (c *cli) newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the registry user the API token belongs to",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			client, err := a.registry()
			if err != nil {
				return err
			}
			user, err := client.CurrentUser(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s (%d)\n", user.Username, user.ID)
			return nil
		}),
	}
}

func (c *cli) newResetIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-id <mod>",
		Short: "Forget the registry profile so the next upload creates a new one",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				d.ResetModID()
				fmt.Fprintf(a.out, "%s no longer has a mod id\n", d.Name)
				return nil
			})
		}),
	}
}

func (c *cli) newClearCacheCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache <mod>",
		Short: "Drop the cached fingerprint so the next pack rebuilds",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(ctx context.Context, a *app, args []string) error {
			return a.withDescriptor(args[0], func(d *mods.Descriptor) error {
				d.ClearFingerprint()
				fmt.Fprintf(a.out, "%s will be rebuilt on the next pack\n", d.Name)
				return nil
			})
		}),
	}
}

func (c *cli) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-pack mods whenever their content changes",
		Args:  cobra.NoArgs,
		RunE: c.run(func(ctx context.Context, a *app, _ []string) error {
			orch, err := a.orchestrator(a.notifier(ctx, nil))
			if err != nil {
				return err
			}
			w, err := watcher.NewWatcher(watcher.Config{
				Store:    a.store,
				Packer:   orch,
				Detector: a.detector,
				Interval: a.cfg.PollInterval,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			a.logger.Info().Dur("interval", a.cfg.PollInterval).Msg("watching mods")
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}),
	}
}
