package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"modkit/services/bundler"
	"modkit/services/mods"
)

func newBundleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Build and verify modfile bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newBundleBuildCommand(), newBundleVerifyCommand())
	return cmd
}

func newBundleBuildCommand() *cobra.Command {
	var (
		dir      string
		output   string
		name     string
		version  string
		platform string
		modID    int64
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Pack a platform build directory into a modfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := mods.ParsePlatform(platform)
			if err != nil {
				return err
			}
			signer, err := bundler.NewSignerFromEnv(cmd.Context())
			if err != nil {
				return err
			}
			manifest, err := bundler.Pack(cmd.Context(), bundler.PackConfig{
				Dir:        dir,
				Output:     output,
				ModID:      modID,
				ModName:    name,
				ModVersion: version,
				Platform:   string(p),
				Signer:     signer,
			})
			if err != nil {
				return err
			}
			info, err := os.Stat(output)
			if err != nil {
				return err
			}
			signed := "unsigned"
			if manifest.Signature != "" {
				signed = "signed by " + manifest.Signer
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d files, %s, %s\n", output, len(manifest.Files), humanize.Bytes(uint64(info.Size())), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Platform build directory")
	cmd.Flags().StringVar(&output, "output", "", "Destination modfile (tar.zst)")
	cmd.Flags().StringVar(&name, "name", "", "Mod name recorded in the manifest")
	cmd.Flags().StringVar(&version, "version", "", "Mod version recorded in the manifest")
	cmd.Flags().StringVar(&platform, "platform", string(mods.PlatformWindows), "Target platform")
	cmd.Flags().Int64Var(&modID, "mod-id", mods.UnassignedModID, "Registry mod id")
	_ = cmd.MarkFlagRequired("dir")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundleVerifyCommand() *cobra.Command {
	var (
		requireSignature bool
		extractDir       string
	)
	cmd := &cobra.Command{
		Use:   "verify <file>",
		Short: "Check a modfile against its manifest and signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := bundler.NewSignerFromEnv(cmd.Context())
			if err != nil {
				return err
			}
			manifest, err := bundler.Verify(cmd.Context(), bundler.VerifyConfig{
				BundlePath:       args[0],
				Signer:           signer,
				RequireSignature: requireSignature,
				ExtractDir:       extractDir,
			})
			if err != nil {
				return err
			}
			var total int64
			for _, f := range manifest.Files {
				total += f.Size
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %s %s (%s): %d files, %s\n",
				manifest.ModName, manifest.ModVersion, manifest.Platform, len(manifest.Files), humanize.Bytes(uint64(total)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&requireSignature, "require-signature", false, "Reject unsigned modfiles")
	cmd.Flags().StringVar(&extractDir, "extract", "", "Extract the bundled files into this directory")
	return cmd
}
